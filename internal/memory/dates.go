package memory

import (
	"strings"
	"time"
)

type boundLayout struct {
	layout string
	utc    bool
}

// ISO dates and zoned timestamps are absolute; the remaining layouts are wall
// clock readings in the caller's location.
var boundLayouts = []boundLayout{
	{time.RFC3339Nano, true},
	{"2006-01-02 15:04:05.999999999Z07:00", true},
	{"2006-01-02", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04:05.999999999", false},
	{"2006-01-02 15:04", false},
	{"January 2, 2006, 3:04 PM", false},
	{"January 2, 2006 3:04 PM", false},
	{"January 2, 2006", false},
	{"Jan 2, 2006, 3:04 PM", false},
	{"Jan 2, 2006", false},
	{"01/02/2006 15:04", false},
	{"01/02/2006 3:04 PM", false},
	{"01/02/2006", false},
}

// ParseBound parses a date-range boundary. A bare YYYY-MM-DD is midnight UTC.
// Other values without a zone offset are read in loc; a nil loc means UTC.
func ParseBound(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, invalidArgument("empty date boundary")
	}
	for _, b := range boundLayouts {
		in := loc
		if b.utc {
			in = time.UTC
		}
		if t, err := time.ParseInLocation(b.layout, v, in); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidArgument("unrecognised date boundary %q", value)
}

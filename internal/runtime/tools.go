package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/provider"
)

// ToolKind is the closed set of tools the model may call.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolRetrieveMemory
	ToolRetrieveMemoryByDateRange
)

const (
	toolNameRetrieveMemory            = "retrieveMemory"
	toolNameRetrieveMemoryByDateRange = "retrieveMemoryByDateRange"
)

func (k ToolKind) String() string {
	switch k {
	case ToolRetrieveMemory:
		return toolNameRetrieveMemory
	case ToolRetrieveMemoryByDateRange:
		return toolNameRetrieveMemoryByDateRange
	default:
		return "unknown"
	}
}

// ToolKindFromName maps a wire name onto a kind.
func ToolKindFromName(name string) ToolKind {
	switch name {
	case toolNameRetrieveMemory:
		return ToolRetrieveMemory
	case toolNameRetrieveMemoryByDateRange:
		return ToolRetrieveMemoryByDateRange
	default:
		return ToolUnknown
	}
}

// Retrieval tuning for retrieveMemory.
const (
	RelevantAngle = 80
	RelevantDepth = 15
)

// NoneFound replaces an empty result list in the context turn.
var NoneFound = []string{"none found"}

// Context turn texts.
const (
	retrievedPrefix        = "Memory retrieved: "
	retrievedByRangePrefix = "Memories retrieved by date range: "
	retrievalFailed        = "Memory retrieval failed."
	retrievalByRangeFailed = "Memory retrieval by date range failed."
)

// ToolInvocation is a decoded tool call.
type ToolInvocation struct {
	ID      string
	Name    string
	Kind    ToolKind
	Owner   string
	Inquiry string
	Start   string
	End     string
}

// ToolExecutionError reports a single failed tool call. The turn carries on.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ParseToolCall decodes the call's arguments. Unknown names decode to
// ToolUnknown without error. Scalar non-string arguments, such as a numeric
// userID, are accepted in their JSON text form.
func ParseToolCall(call provider.ToolCall) (ToolInvocation, error) {
	inv := ToolInvocation{ID: call.ID, Name: call.Name, Kind: ToolKindFromName(call.Name)}
	if inv.Kind == ToolUnknown {
		return inv, nil
	}

	args, err := decodeArgs(call.Args)
	if err != nil {
		return inv, &ToolExecutionError{Tool: call.Name, Err: err}
	}

	var required []string
	switch inv.Kind {
	case ToolRetrieveMemory:
		inv.Owner, inv.Inquiry = args["userID"], args["inquiry"]
		required = []string{"inquiry", "userID"}
	case ToolRetrieveMemoryByDateRange:
		inv.Owner, inv.Start, inv.End = args["userID"], args["startingDate"], args["endingDate"]
		required = []string{"userID", "startingDate", "endingDate"}
	}
	for _, name := range required {
		if strings.TrimSpace(args[name]) == "" {
			return inv, &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("missing argument %q", name)}
		}
	}
	return inv, nil
}

func decodeArgs(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	args := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			args[k] = s
			continue
		}
		if bytes.HasPrefix(bytes.TrimSpace(v), []byte("{")) || bytes.HasPrefix(bytes.TrimSpace(v), []byte("[")) {
			return nil, fmt.Errorf("argument %q must be a scalar", k)
		}
		args[k] = string(bytes.TrimSpace(v))
	}
	return args, nil
}

// Tools returns the schemas offered on the first model call.
func Tools() []provider.ToolSchema {
	return []provider.ToolSchema{
		{
			Name:        toolNameRetrieveMemory,
			Description: "Retrieves a memory using an inquiry prompt, embeddings, and cosine similarity",
			Parameters: []provider.ToolParameter{
				{
					Name:        "inquiry",
					Description: "A query string to find a memory, e.g., 'What are my pet's names?' never include @tag names in this argument. Try to keep it concise and general using keywords instead of full sentences. Avoid phrases like 'messages about x' in favor of just using keywords or a simple subject-line",
					Required:    true,
				},
				{Name: "userID", Description: "the userID whose memories you are trying to retrieve.", Required: true},
			},
		},
		{
			Name:        toolNameRetrieveMemoryByDateRange,
			Description: "Retrieves a memory using a userID, and date range",
			Parameters: []provider.ToolParameter{
				{Name: "userID", Description: "a userID", Required: true},
				{Name: "startingDate", Description: "the earlier date of the range", Required: true},
				{Name: "endingDate", Description: "the later date of the range", Required: true},
			},
		},
	}
}

// successTurn renders a retrieval result as a context turn.
func successTurn(kind ToolKind, results []memory.Result) (string, error) {
	var payload any = results
	if len(results) == 0 {
		payload = NoneFound
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	switch kind {
	case ToolRetrieveMemory:
		return retrievedPrefix + string(b), nil
	case ToolRetrieveMemoryByDateRange:
		return retrievedByRangePrefix + string(b), nil
	default:
		return "", fmt.Errorf("no context turn for %s", kind)
	}
}

// failureTurn is the context turn substituted for a failed call.
func failureTurn(kind ToolKind) string {
	switch kind {
	case ToolRetrieveMemoryByDateRange:
		return retrievalByRangeFailed
	default:
		return retrievalFailed
	}
}

package memory

import (
	"math"
	"strings"
)

// CosineSimilarity returns dot(a,b)/(|a||b|). It is NaN when the vectors differ
// in length, are empty, or either is all zeros.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Threshold converts an angular tolerance in degrees into a similarity floor
// using the linear mapping 1 - angle/90. 0° gives 1, 90° gives 0, 180° gives -1.
func Threshold(angle float64) (float64, error) {
	if math.IsNaN(angle) || angle < 0 || angle > 180 {
		return 0, invalidArgument("angle tolerance must be within [0, 180], got %v", angle)
	}
	return 1 - angle/90, nil
}

// LexicalOverlap counts the query words that appear as whole tokens in body.
// queryWords must already be lower-cased; repeated query words count each time.
func LexicalOverlap(queryWords []string, body string) int {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(body)) {
		tokens[t] = struct{}{}
	}
	n := 0
	for _, w := range queryWords {
		if _, ok := tokens[w]; ok {
			n++
		}
	}
	return n
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

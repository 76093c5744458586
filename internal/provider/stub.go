package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
)

// StubDimensions is the size of the stub's bag-of-words embeddings.
const StubDimensions = 64

// StubProvider replays scripted responses and embeds text by hashing its
// words, which is enough for offline demos and tests.
type StubProvider struct {
	mu        sync.Mutex
	responses []Response
	calls     [][]Message
	tools     [][]ToolSchema

	// Delay simulates model latency.
	Delay time.Duration
}

func NewStubProvider(responses ...Response) *StubProvider {
	return &StubProvider{responses: responses}
}

// Enqueue appends scripted responses.
func (m *StubProvider) Enqueue(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, _ Sampling) (*Response, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.tools = append(m.tools, tools)

	if len(m.responses) == 0 {
		var last string
		if len(messages) > 0 {
			last = messages[len(messages)-1].Content
		}
		return &Response{Content: "You said: " + lastLine(last)}, nil
	}

	resp := m.responses[0]
	m.responses = m.responses[1:]
	return &resp, nil
}

// Calls returns the message lists the stub has received.
func (m *StubProvider) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// ToolsOffered returns the tool lists offered on each call.
func (m *StubProvider) ToolsOffered() [][]ToolSchema {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]ToolSchema(nil), m.tools...)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Embed returns a normalised bag-of-words vector. Texts sharing words point
// in similar directions; text with no words embeds to the zero vector.
func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, StubDimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%StubDimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}

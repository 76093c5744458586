package provider

import (
	"context"
	"errors"
)

// ErrEmbeddingsUnsupported is returned by providers that cannot embed text.
var ErrEmbeddingsUnsupported = errors.New("embeddings not supported by this provider")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the output from the model.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolParameter is one string argument of a tool.
type ToolParameter struct {
	Name        string
	Description string
	Required    bool
}

// ToolSchema describes a function the model may call. All parameters are strings.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// JSONSchema renders the parameters as a JSON schema object.
func (t ToolSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		props[p.Name] = map[string]any{
			"type":        "string",
			"description": p.Description,
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   t.Required(),
	}
}

// Required lists the names of required parameters.
func (t ToolSchema) Required() []string {
	required := []string{}
	for _, p := range t.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Sampling holds the nucleus-sampling configuration of a call.
type Sampling struct {
	Temperature float32
	TopP        float32
}

// Completer produces chat completions.
type Completer interface {
	// Chat sends the messages, offering tools when non-empty.
	Chat(ctx context.Context, messages []Message, tools []ToolSchema, sampling Sampling) (*Response, error)

	// Name returns the provider identifier (e.g., "stub", "openai").
	Name() string
}

// Embedder generates vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider is a backend offering both chat and embeddings.
type Provider interface {
	Completer
	Embedder
}

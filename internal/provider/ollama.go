package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client         *api.Client
	model          string
	embeddingModel string
}

func NewOllamaProvider(model string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", baseURL, err)
	}

	return &OllamaProvider{
		client:         api.NewClient(uri, http.DefaultClient),
		model:          model,
		embeddingModel: "nomic-embed-text",
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

// SetEmbeddingModel overrides the embedding model.
func (p *OllamaProvider) SetEmbeddingModel(model string) {
	if model != "" {
		p.embeddingModel = model
	}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, sampling Sampling) (*Response, error) {
	apiMsgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var apiTools []api.Tool
	for _, t := range tools {
		props := api.NewToolPropertiesMap()
		for _, param := range t.Parameters {
			props.Set(param.Name, api.ToolProperty{
				Type:        api.PropertyType{"string"},
				Description: param.Description,
			})
		}
		apiTools = append(apiTools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: props,
					Required:   t.Required(),
				},
			},
		})
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		Tools:    apiTools,
		Options: map[string]any{
			"temperature": sampling.Temperature,
			"top_p":       sampling.TopP,
		},
	}

	var respContent string
	var totalTokens int
	var toolCalls []ToolCall

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		if resp.Done {
			totalTokens = resp.EvalCount + resp.PromptEvalCount
		}

		for _, tc := range resp.Message.ToolCalls {
			argsBytes, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("encode arguments of %s: %w", tc.Function.Name, err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   fmt.Sprintf("call_%d_%s", len(toolCalls), tc.Function.Name),
				Name: tc.Function.Name,
				Args: string(argsBytes),
			})
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return &Response{
		Content:   respContent,
		ToolCalls: toolCalls,
		Usage:     usageFromTokens(totalTokens),
	}, nil
}

func usageFromTokens(total int) Usage {
	return Usage{
		TotalTokens:      total,
		PromptTokens:     0,
		CompletionTokens: total,
	}
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.embeddingModel,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

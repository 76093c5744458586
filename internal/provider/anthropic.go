package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 1024

type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider builds a Claude client. baseURL may be empty. Retries
// are left to the resilient wrapper, so the SDK's own are disabled.
func NewAnthropicProvider(apiKey, baseURL, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	if model == "" {
		model = "claude-sonnet-4-5"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, sampling Sampling) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		// Claude caps temperature at 1.
		Temperature: anthropic.Float(float64(min(sampling.Temperature, 1))),
		TopP:        anthropic.Float(float64(sampling.TopP)),
	}

	// System turns anywhere in the history are folded into the system prompt
	// in order; the remaining turns must alternate, so adjacent same-role
	// turns are merged.
	var system []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			params.Messages = appendAnthropic(params.Messages, anthropic.MessageParamRoleAssistant, m.Content)
		default:
			params.Messages = appendAnthropic(params.Messages, anthropic.MessageParamRoleUser, m.Content)
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if len(params.Messages) == 0 {
		return nil, errors.New("anthropic chat needs a non-system message")
	}

	for _, t := range tools {
		props := make(map[string]any, len(t.Parameters))
		for _, param := range t.Parameters {
			props[param.Name] = map[string]any{
				"type":        "string",
				"description": param.Description,
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   t.Required(),
				},
			},
		})
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var content strings.Builder
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("encode arguments of %s: %w", block.Name, err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: string(args),
			})
		}
	}

	return &Response{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func appendAnthropic(msgs []anthropic.MessageParam, role anthropic.MessageParamRole, text string) []anthropic.MessageParam {
	if text == "" {
		return msgs
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, anthropic.NewTextBlock(text))
		return msgs
	}
	if role == anthropic.MessageParamRoleAssistant {
		return append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
	}
	return append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
}

func (p *AnthropicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic: %w", ErrEmbeddingsUnsupported)
}

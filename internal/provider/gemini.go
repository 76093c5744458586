package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-1.5-flash"
	}

	return &GeminiProvider{
		client:         client,
		model:          model,
		embeddingModel: "text-embedding-004",
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// SetEmbeddingModel overrides the embedding model.
func (p *GeminiProvider) SetEmbeddingModel(model string) {
	if model != "" {
		p.embeddingModel = model
	}
}

// Close releases the underlying gRPC connection.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func geminiTools(tools []ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Parameters))
		for _, param := range t.Parameters {
			props[param.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: param.Description,
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.Required(),
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, sampling Sampling) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("gemini chat needs at least one message")
	}

	geminiModel := p.client.GenerativeModel(p.model)
	geminiModel.Tools = geminiTools(tools)
	geminiModel.SetTemperature(sampling.Temperature)
	geminiModel.SetTopP(sampling.TopP)

	// Gemini has one system instruction; the leading system message becomes it
	// and any later system messages travel as user content.
	if messages[0].Role == "system" {
		geminiModel.SystemInstruction = genai.NewUserContent(genai.Text(messages[0].Content))
		messages = messages[1:]
	}
	if len(messages) == 0 {
		return nil, errors.New("gemini chat needs a non-system message")
	}

	cs := geminiModel.StartChat()
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		if m.Content == "" {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	lastMsg := messages[len(messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(lastMsg.Content))
	if err != nil {
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned")
	}
	cand := resp.Candidates[0]

	var content strings.Builder
	var toolCalls []ToolCall

	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			content.WriteString(string(v))
		case genai.FunctionCall:
			argsBytes, err := json.Marshal(v.Args)
			if err != nil {
				return nil, fmt.Errorf("encode arguments of %s: %w", v.Name, err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:   fmt.Sprintf("call_%d_%s", len(toolCalls), v.Name),
				Name: v.Name,
				Args: string(argsBytes),
			})
		}
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return &Response{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return res.Embedding.Values, nil
}

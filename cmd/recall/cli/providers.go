package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/credential"
	"github.com/felixgeelhaar/recall/internal/provider"
)

// Providers that cannot embed fall back to this one for embeddings.
const fallbackEmbedder = "ollama"

type embeddingModelSetter interface {
	SetEmbeddingModel(model string)
}

// buildProviders returns the chat backend and the embedding backend selected
// by cfg, plus a function releasing them.
func buildProviders(ctx context.Context, cfg config.Config, secrets *credential.Vault) (provider.Completer, provider.Embedder, func(), error) {
	var closers []io.Closer
	release := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	chat, err := newProvider(ctx, cfg.Provider, cfg.Model, secrets)
	if err != nil {
		return nil, nil, release, err
	}
	if c, ok := chat.(io.Closer); ok {
		closers = append(closers, c)
	}

	embedName := cfg.Embedder
	if embedName == "" {
		embedName = cfg.Provider
		if !canEmbed(embedName) {
			embedName = fallbackEmbedder
		}
	}

	embedder := provider.Provider(chat)
	if embedName != cfg.Provider {
		embedder, err = newProvider(ctx, embedName, "", secrets)
		if err != nil {
			release()
			return nil, nil, func() {}, fmt.Errorf("embedder: %w", err)
		}
		if c, ok := embedder.(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	if cfg.EmbeddingModel != "" {
		if s, ok := embedder.(embeddingModelSetter); ok {
			s.SetEmbeddingModel(cfg.EmbeddingModel)
		}
	}
	return chat, embedder, release, nil
}

func canEmbed(name string) bool {
	switch name {
	case "openai", "ollama", "gemini", "stub":
		return true
	default:
		return false
	}
}

func newProvider(ctx context.Context, name, model string, secrets *credential.Vault) (provider.Provider, error) {
	switch name {
	case "openai":
		apiKey := secret(secrets, "openai.api_key", "OPENAI_API_KEY")
		baseURL, _ := secrets.Get("openai.base_url")
		return provider.NewOpenAIProvider(apiKey, baseURL, model)
	case "ollama":
		return provider.NewOllamaProvider(model)
	case "gemini":
		apiKey := secret(secrets, "gemini.api_key", "GEMINI_API_KEY")
		return provider.NewGeminiProvider(ctx, apiKey, model)
	case "anthropic":
		apiKey := secret(secrets, "anthropic.api_key", "ANTHROPIC_API_KEY")
		baseURL, _ := secrets.Get("anthropic.base_url")
		return provider.NewAnthropicProvider(apiKey, baseURL, model)
	case "cli":
		return detectCLIProvider(secrets)
	case "stub":
		return provider.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use openai, ollama, gemini, anthropic, cli or stub)", name)
	}
}

// secret prefers the stored value and falls back to the environment.
func secret(secrets *credential.Vault, key, env string) string {
	if v, err := secrets.Get(key); err == nil && v != "" {
		return v
	}
	return os.Getenv(env)
}

func detectCLIProvider(secrets *credential.Vault) (provider.Provider, error) {
	if cliPath, _ := secrets.Get("provider.cli.path"); cliPath != "" {
		return provider.NewCLIProvider(cliPath, []string{})
	}

	tools := []string{"claude", "codex", "gemini", "llm"}
	for _, t := range tools {
		if path, err := exec.LookPath(t); err == nil {
			return provider.NewCLIProvider(path, []string{})
		}
	}
	return nil, fmt.Errorf("no local CLI agents detected (tried claude, codex, gemini, llm)")
}

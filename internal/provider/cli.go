package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLIProvider shells out to a local model binary. It renders the whole
// history as a transcript argument and ignores tools.
type CLIProvider struct {
	binaryPath string
	args       []string
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
	}, nil
}

func (p *CLIProvider) Name() string {
	return "cli-" + p.binaryPath
}

func (p *CLIProvider) Chat(ctx context.Context, messages []Message, _ []ToolSchema, _ Sampling) (*Response, error) {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	fullArgs := append(append([]string(nil), p.args...), transcript.String())
	cmd := exec.CommandContext(ctx, p.binaryPath, fullArgs...)

	output, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(output))

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("cli model timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("cli model failed: %w\nOutput: %s", err, result)
	}

	return &Response{
		Content: result,
		Usage: Usage{
			TotalTokens: len(strings.Fields(result)),
		},
	}, nil
}

func (p *CLIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("cli: %w", ErrEmbeddingsUnsupported)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"RECALL_DATA_DIR",
	"RECALL_DATABASE_URL",
	"RECALL_PERSONA",
	"RECALL_OWNER",
	"RECALL_PROVIDER",
	"RECALL_MODEL",
	"RECALL_EMBEDDER",
	"RECALL_EMBEDDING_MODEL",
	"RECALL_LISTEN_ADDR",
	"RECALL_METRICS_NAMESPACE",
	"RECALL_COLLABORATOR_TIMEOUT",
	"RECALL_TURN_TIMEOUT",
	"RECALL_SHUTDOWN_TIMEOUT",
	"RECALL_MAX_ATTEMPTS",
	"RECALL_SESSION_LIMIT",
	"RECALL_MAX_TOOL_CALLS",
	"RECALL_MAX_INPUT_CHARS",
	"RECALL_EMBEDDING_CACHE_SIZE",
	"RECALL_ALLOWED_OWNERS",
	"RECALL_VERBOSE",
	"RECALL_JSON_LOGS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Owner != "1" {
		t.Fatalf("Owner = %q, want %q", cfg.Owner, "1")
	}
	if cfg.CollaboratorTimeout != 30*time.Second {
		t.Fatalf("CollaboratorTimeout = %v, want 30s", cfg.CollaboratorTimeout)
	}
	if cfg.Guard.MaxToolCalls != 8 {
		t.Fatalf("Guard.MaxToolCalls = %d, want 8", cfg.Guard.MaxToolCalls)
	}
	if filepath.Base(cfg.SQLitePath()) != "recall.db" {
		t.Fatalf("SQLitePath() = %q", cfg.SQLitePath())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
provider: openai
model: gpt-4o-mini
owner: "42"
collaborator_timeout: 5s
guard:
  max_tool_calls: 2
  allowed_owners: ["4*"]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECALL_MODEL", "gpt-4o")
	t.Setenv("RECALL_VERBOSE", "yes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", cfg.Provider)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q, env should win over file", cfg.Model)
	}
	if cfg.Owner != "42" {
		t.Errorf("Owner = %q", cfg.Owner)
	}
	if cfg.CollaboratorTimeout != 5*time.Second {
		t.Errorf("CollaboratorTimeout = %v", cfg.CollaboratorTimeout)
	}
	if cfg.Guard.MaxToolCalls != 2 || len(cfg.Guard.AllowedOwners) != 1 {
		t.Errorf("Guard = %+v", cfg.Guard)
	}
	if !cfg.Verbose {
		t.Error("Verbose should be set from env")
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"RECALL_TURN_TIMEOUT": "soon",
		"RECALL_MAX_ATTEMPTS": "three",
		"RECALL_JSON_LOGS":    "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadAllowedOwnersFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_ALLOWED_OWNERS", "1,2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Guard.AllowedOwners) != 2 || cfg.Guard.AllowedOwners[1] != "2" {
		t.Fatalf("AllowedOwners = %v", cfg.Guard.AllowedOwners)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Owner = " "
	cfg.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("provider: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// unsetEnv removes keys for the test; t.Setenv restores them afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	unsetEnv(t, "RECALL_PROVIDER", "RECALL_MODEL", "OPENAI_API_KEY")
	t.Setenv("RECALL_OWNER", "7")

	dir := t.TempDir()
	dotenv := []byte("RECALL_PROVIDER=openai\nRECALL_MODEL=gpt-4o-mini\nRECALL_OWNER=99\nOPENAI_API_KEY=sk-from-dotenv\n")
	if err := os.WriteFile(filepath.Join(dir, DotEnvFile), dotenv, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o-mini" {
		t.Errorf("Provider/Model = %q/%q, want values from .env", cfg.Provider, cfg.Model)
	}
	if cfg.Owner != "7" {
		t.Errorf("Owner = %q, the environment should win over .env", cfg.Owner)
	}
	if got := os.Getenv("OPENAI_API_KEY"); got != "sk-from-dotenv" {
		t.Errorf("OPENAI_API_KEY = %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}

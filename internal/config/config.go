// Package config resolves runtime settings: defaults, then an optional YAML
// file, then RECALL_* environment variables (a .env file may supply them).
// Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/recall/internal/guard"
)

// Config contains all runtime settings of the agent.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
	PersonaPath string `yaml:"persona"`
	Owner       string `yaml:"owner"`

	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	Embedder       string `yaml:"embedder"`
	EmbeddingModel string `yaml:"embedding_model"`

	ListenAddr       string `yaml:"listen_addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`

	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	MaxAttempts         int           `yaml:"max_attempts"`
	EmbeddingCacheSize  int64         `yaml:"embedding_cache_size"`
	SessionLimit        int           `yaml:"session_limit"`

	Guard guard.Policy `yaml:"guard"`

	Verbose  bool `yaml:"verbose"`
	JSONLogs bool `yaml:"json_logs"`
}

// Default returns the built-in settings.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:             filepath.Join(home, ".recall"),
		Owner:               "1",
		Provider:            "ollama",
		ListenAddr:          ":8080",
		MetricsNamespace:    "recall",
		CollaboratorTimeout: 30 * time.Second,
		TurnTimeout:         2 * time.Minute,
		ShutdownTimeout:     15 * time.Second,
		MaxAttempts:         3,
		EmbeddingCacheSize:  4096,
		SessionLimit:        10,
		Guard:               guard.DefaultPolicy,
	}
}

// DefaultPath is the config file looked up when none is given.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "config.yaml")
}

// SQLitePath is the database file inside the data directory.
func (c Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "recall.db")
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := LoadDotEnv(DotEnvFile); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// DotEnvFile is read by Load before the environment is consulted.
const DotEnvFile = ".env"

// LoadDotEnv copies the variables of the given files into the process
// environment. Variables already set win and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DataDir = envOrDefault("RECALL_DATA_DIR", c.DataDir)
	c.DatabaseURL = envOrDefault("RECALL_DATABASE_URL", c.DatabaseURL)
	c.PersonaPath = envOrDefault("RECALL_PERSONA", c.PersonaPath)
	c.Owner = envOrDefault("RECALL_OWNER", c.Owner)
	c.Provider = envOrDefault("RECALL_PROVIDER", c.Provider)
	c.Model = envOrDefault("RECALL_MODEL", c.Model)
	c.Embedder = envOrDefault("RECALL_EMBEDDER", c.Embedder)
	c.EmbeddingModel = envOrDefault("RECALL_EMBEDDING_MODEL", c.EmbeddingModel)
	c.ListenAddr = envOrDefault("RECALL_LISTEN_ADDR", c.ListenAddr)
	c.MetricsNamespace = envOrDefault("RECALL_METRICS_NAMESPACE", c.MetricsNamespace)

	var err error
	if c.CollaboratorTimeout, err = durationFromEnv("RECALL_COLLABORATOR_TIMEOUT", c.CollaboratorTimeout); err != nil {
		return err
	}
	if c.TurnTimeout, err = durationFromEnv("RECALL_TURN_TIMEOUT", c.TurnTimeout); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = durationFromEnv("RECALL_SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.MaxAttempts, err = intFromEnv("RECALL_MAX_ATTEMPTS", c.MaxAttempts); err != nil {
		return err
	}
	if c.SessionLimit, err = intFromEnv("RECALL_SESSION_LIMIT", c.SessionLimit); err != nil {
		return err
	}
	if c.Guard.MaxToolCalls, err = intFromEnv("RECALL_MAX_TOOL_CALLS", c.Guard.MaxToolCalls); err != nil {
		return err
	}
	if c.Guard.MaxInputChars, err = intFromEnv("RECALL_MAX_INPUT_CHARS", c.Guard.MaxInputChars); err != nil {
		return err
	}
	cacheSize, err := intFromEnv("RECALL_EMBEDDING_CACHE_SIZE", int(c.EmbeddingCacheSize))
	if err != nil {
		return err
	}
	c.EmbeddingCacheSize = int64(cacheSize)
	if owners := strings.TrimSpace(os.Getenv("RECALL_ALLOWED_OWNERS")); owners != "" {
		c.Guard.AllowedOwners = strings.Split(owners, ",")
	}
	if c.Verbose, err = boolFromEnv("RECALL_VERBOSE", c.Verbose); err != nil {
		return err
	}
	if c.JSONLogs, err = boolFromEnv("RECALL_JSON_LOGS", c.JSONLogs); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the agent cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Owner) == "" {
		problems = append(problems, "owner must not be empty")
	}
	if c.DataDir == "" && c.DatabaseURL == "" {
		problems = append(problems, "data_dir or database_url is required")
	}
	if c.CollaboratorTimeout <= 0 {
		problems = append(problems, "collaborator_timeout must be positive")
	}
	if c.TurnTimeout <= 0 {
		problems = append(problems, "turn_timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		problems = append(problems, "max_attempts must be positive")
	}
	if c.SessionLimit <= 0 {
		problems = append(problems, "session_limit must be positive")
	}
	if c.EmbeddingCacheSize < 0 {
		problems = append(problems, "embedding_cache_size must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/credential"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/store"
)

// credentialKeyEnv overrides the machine-derived key that seals API keys.
const credentialKeyEnv = "RECALL_CREDENTIAL_KEY"

// loadConfig resolves file and environment settings, then the flags the
// user actually passed.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("json") {
		cfg.JSONLogs = jsonLogs
	}
	if flags.Changed("provider") {
		cfg.Provider = providerType
	}
	if flags.Changed("model") {
		cfg.Model = modelName
	}
	if flags.Changed("embedder") {
		cfg.Embedder = embedderType
	}
	if flags.Changed("owner") {
		cfg.Owner = owner
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = databaseURL
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("persona") {
		cfg.PersonaPath = personaPath
	}
	return cfg, cfg.Validate()
}

func newObserver(cfg config.Config) *observe.Observer {
	if cfg.JSONLogs {
		return observe.NewJSON(os.Stderr, cfg.Verbose)
	}
	return observe.New(os.Stderr, cfg.Verbose)
}

// openSettings opens the SQLite file holding the configuration table.
func openSettings(cfg config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

func newVault(kv credential.KV) (*credential.Vault, error) {
	var (
		mgr *credential.Manager
		err error
	)
	if key := os.Getenv(credentialKeyEnv); key != "" {
		mgr, err = credential.NewManagerWithKey([]byte(key))
	} else {
		mgr, err = credential.NewManager()
	}
	if err != nil {
		return nil, fmt.Errorf("credential manager: %w", err)
	}
	return credential.NewVault(kv, mgr), nil
}

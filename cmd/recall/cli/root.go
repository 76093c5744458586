package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/ui"
	"github.com/felixgeelhaar/recall/internal/ui/tui"
)

var (
	configPath   string
	verbose      bool
	jsonLogs     bool
	providerType string
	modelName    string
	embedderType string
	owner        string
	databaseURL  string
	dataDir      string
	personaPath  string
	interactive  bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "recall",
	Short: "A conversational agent with long-term memory",
	Long: `Recall chats through a language model and remembers what you tell it.
Every message is embedded and stored; the model can look memories up by
meaning or by date while it answers.`,
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a conversation",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default ~/.recall/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVar(&jsonLogs, "json", false, "Log JSON lines")
	flags.StringVarP(&providerType, "provider", "p", "ollama", "AI Provider (ollama, openai, gemini, anthropic, cli, stub)")
	flags.StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")
	flags.StringVar(&embedderType, "embedder", "", "Embedding provider (default: the chat provider when it can embed)")
	flags.StringVarP(&owner, "owner", "u", "1", "Owner whose memories are used")
	flags.StringVar(&databaseURL, "database-url", "", `Postgres URL, or "memory"; empty uses SQLite in the data dir`)
	flags.StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.recall)")
	flags.StringVar(&personaPath, "persona", "", "Persona file (.yaml or .json)")

	chatCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive TUI")
	RootCmd.AddCommand(chatCmd)
}

// environment is everything a command needs to talk to the agent.
type environment struct {
	cfg     config.Config
	obs     *observe.Observer
	runner  *Runner
	closers []func()
}

func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// setup builds the agent for cmd. jsonDefault switches to JSON logs unless
// the user chose otherwise.
func setup(ctx context.Context, cmd *cobra.Command, jsonDefault bool) (*environment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if jsonDefault && !cmd.Flags().Changed("json") {
		cfg.JSONLogs = true
	}

	env := &environment{cfg: cfg, obs: newObserver(cfg)}
	env.closers = append(env.closers, func() { _ = env.obs.Close() })

	settings, err := openSettings(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, func() { _ = settings.Close() })

	vault, err := newVault(settings)
	if err != nil {
		env.Close()
		return nil, err
	}

	var storage store.Storage = settings
	if cfg.DatabaseURL != "" {
		storage, err = store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath())
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to open memory store: %w", err)
		}
		env.closers = append(env.closers, func() { _ = storage.Close() })
	}

	chat, embedder, release, err := buildProviders(ctx, cfg, vault)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	env.closers = append(env.closers, release)

	runner, err := NewRunner(cfg, env.obs, storage, chat, embedder, nil)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.runner = runner
	env.closers = append(env.closers, runner.Close)
	return env, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	env, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	agent := ui.Gate(env.runner.Agent, env.runner.Guard)
	if !interactive {
		return ui.RunREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), agent, env.cfg.Owner)
	}

	model := tui.NewModel(ctx, "recall", env.cfg.Owner, agent)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	ui.Watch(env.runner.Events, tui.NewTUI(program))

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}

// Command triage runs the TriageChat intake assistant: an HTTP server with a
// WhatsApp webhook, an interactive terminal chat, and a script replayer.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TriageChat/internal/config"
	"github.com/BTreeMap/TriageChat/internal/engine"
	"github.com/BTreeMap/TriageChat/internal/flow"
	"github.com/BTreeMap/TriageChat/internal/genai"
	"github.com/BTreeMap/TriageChat/internal/interpret"
	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/metrics"
	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/BTreeMap/TriageChat/internal/store"
)

// rootFlags holds the flags shared by every command.
type rootFlags struct {
	envFile      string
	logLevel     string
	messagesFile string
	languages    []string
	nluMode      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var cfg config.Config

	root := &cobra.Command{
		Use:           "triage",
		Short:         "Scripted sexual-health intake and triage assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			cfg = loaded
			initializeLogger(cmd.ErrOrStderr(), cfg.SlogLevel())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load (default: .env if present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.messagesFile, "messages", "", "YAML message catalog replacing the built-in one")
	root.PersistentFlags().StringSliceVar(&flags.languages, "languages", nil, "language packs to enable (overrides $TRIAGE_LANGUAGES)")
	root.PersistentFlags().StringVar(&flags.nluMode, "nlu-mode", "", "deterministic or hybrid (overrides $NLU_MODE)")

	root.AddCommand(
		newServeCmd(&cfg, flags),
		newChatCmd(&cfg, flags),
		newReplayCmd(&cfg, flags),
	)
	return root
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	var cfg config.Config
	if flags.envFile != "" {
		cfg = config.Load(flags.envFile)
	} else {
		cfg = config.Load()
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("languages") {
		cfg.Languages = flags.languages
	}
	if cmd.Flags().Changed("nlu-mode") {
		cfg.NLUMode = flags.nluMode
		cfg.NLUEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// buildEngine wires languages, the interpreter and the message catalog. rec
// may be nil.
func buildEngine(cfg config.Config, messagesFile string, rec *metrics.Recorder) (*engine.Engine, error) {
	langs := lang.Lookup(cfg.Languages)
	opts := []engine.Option{engine.WithLanguages(langs...)}

	local := interpret.NewDeterministic(interpret.WithLanguages(langs...))
	if cfg.UseRemoteNLU() {
		client, err := genai.NewClient(cfg.GenAIOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create NLU client: %w", err)
		}
		hybridOpts := []interpret.HybridOption{
			interpret.WithThresholds(cfg.FastMinConfidence, cfg.StrongMinConfidence),
		}
		if rec != nil {
			hybridOpts = append(hybridOpts, interpret.WithObserver(rec.ObserveNLUCall))
		}
		opts = append(opts, engine.WithInterpreter(interpret.NewHybrid(local, client, hybridOpts...)))
		slog.Info("NLU enabled", "mode", cfg.NLUMode, "fast_model", client.ModelFor(models.StrengthFast), "strong_model", client.ModelFor(models.StrengthStrong))
	} else {
		opts = append(opts, engine.WithInterpreter(local))
		slog.Debug("Using deterministic interpreter only", "nlu_enabled", cfg.NLUEnabled, "mode", cfg.NLUMode)
	}

	if messagesFile != "" {
		data, err := os.ReadFile(messagesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read message catalog: %w", err)
		}
		renderer, err := flow.ParseMessages(data)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithRenderer(renderer))
		slog.Debug("Loaded message catalog", "path", messagesFile)
	}
	if rec != nil {
		opts = append(opts, engine.WithObserver(rec))
	}
	return engine.New(opts...), nil
}

// openStore opens the session store for dsn: PostgreSQL for URL or
// key/value DSNs, SQLite for file paths.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	if err := ensureDirectoriesExist(dsn); err != nil {
		return nil, err
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// ensureDirectoriesExist creates the parent directory of a file-based DSN.
func ensureDirectoriesExist(dsn string) error {
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return nil
}

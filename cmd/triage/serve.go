package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/TriageChat/internal/api"
	"github.com/BTreeMap/TriageChat/internal/config"
	"github.com/BTreeMap/TriageChat/internal/lockfile"
	"github.com/BTreeMap/TriageChat/internal/messaging"
	"github.com/BTreeMap/TriageChat/internal/metrics"
	"github.com/BTreeMap/TriageChat/internal/scheduler"
	"github.com/BTreeMap/TriageChat/internal/store"
)

func newServeCmd(cfg *config.Config, flags *rootFlags) *cobra.Command {
	var (
		apiAddr string
		dbDSN   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WhatsApp webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("api-addr") {
				cfg.APIAddr = apiAddr
			}
			if cmd.Flags().Changed("db-dsn") {
				cfg.DBDSN = dbDSN
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *cfg, flags.messagesFile)
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api-addr", "", "API server address (overrides $API_ADDR)")
	cmd.Flags().StringVar(&dbDSN, "db-dsn", "", "session store DSN: file path or PostgreSQL URL (overrides $DATABASE_URL)")
	return cmd
}

// serverOptions builds the API options for cfg. sender may be nil.
func serverOptions(cfg config.Config, rec *metrics.Recorder, sender messaging.Service) []api.Option {
	opts := []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithRecorder(rec),
		api.WithOutboxPollInterval(cfg.OutboxPollInterval),
	}
	if sender != nil {
		opts = append(opts, api.WithSender(sender))
	}
	if cfg.TwilioAuthToken != "" {
		opts = append(opts, api.WithTwilioSignature(cfg.TwilioAuthToken, cfg.TwilioWebhookURL))
	}
	return opts
}

func runServe(ctx context.Context, cfg config.Config, messagesFile string) error {
	slog.Info("Bootstrapping TriageChat", "api_addr", cfg.APIAddr, "nlu_enabled", cfg.NLUEnabled, "nlu_mode", cfg.NLUMode)

	rec := metrics.NewRecorder()
	eng, err := buildEngine(cfg, messagesFile, rec)
	if err != nil {
		return err
	}

	if store.DetectDSNType(cfg.DBDSN) != "postgres" {
		lock, err := lockfile.Acquire(filepath.Dir(cfg.DBDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := openStore(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close session store", "error", err)
		}
	}()

	var sender messaging.Service
	if cfg.TwilioEnabled() {
		tw, err := messaging.NewTwilioSender(
			messaging.WithAccountSID(cfg.TwilioAccountSID),
			messaging.WithAuthToken(cfg.TwilioAuthToken),
			messaging.WithFromNumber(cfg.TwilioFromNumber),
		)
		if err != nil {
			return fmt.Errorf("failed to create Twilio sender: %w", err)
		}
		sender = tw
	} else {
		slog.Warn("Twilio not configured, WhatsApp replies will not be delivered")
	}

	sched := scheduler.NewScheduler()
	if err := scheduler.ScheduleMaintenance(sched, st, cfg.MaintenanceSchedule, cfg.RetentionPeriod); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(eng, append(serverOptions(cfg, rec, sender), api.WithStore(st))...)
	if err := server.Run(ctx); err != nil {
		return err
	}
	slog.Info("TriageChat exited successfully")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deusflow/newspick/internal/app"
	"github.com/deusflow/newspick/internal/config"
	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/metrics"
	"github.com/deusflow/newspick/internal/scheduler"
)

type rootOptions struct {
	envFile string
	runNow  bool
	debug   bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "newspick",
		Short: "Posts the most representative news story of each batch",
		Long: `newspick polls RSS feeds on a daily schedule, summarises the articles,
drops stories already posted in the last 24 hours and posts the most
representative remaining story to a Telegram chat.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "file with KEY=value settings")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging (same as DEBUG=true)")
	cmd.Flags().BoolVar(&opts.runNow, "run-now", false, "run one batch immediately and exit")

	cmd.AddCommand(newLedgerCommand(opts))
	return cmd
}

func runRoot(parent context.Context, opts *rootOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.Init(cfg.Debug || opts.debug)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	pipeline, cleanup, err := app.Build(ctx, cfg, log, m)
	defer func() {
		if err := cleanup(); err != nil {
			log.Warn("cleanup failed", "error", err)
		}
	}()
	if err != nil {
		return err
	}

	if cfg.EnableHTTPMonitoring {
		go startMonitoringServer(ctx, ":"+cfg.MonitoringPort, m, pipeline.EmbeddingStats, log)
	}

	if opts.runNow {
		log.Info("running one batch now")
		_, err := pipeline.RunOnce(ctx)
		return err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	s := scheduler.New(ctx, loc, log)
	err = s.AddDaily(cfg.ScheduleTimes, func(ctx context.Context) error {
		_, err := pipeline.RunOnce(ctx)
		return err
	})
	if err != nil {
		return err
	}

	log.Info("running in schedule mode", "times", cfg.ScheduleTimes, "timezone", loc.String())
	s.Run()
	log.Info("shutdown complete")
	return nil
}

// setupLogger is used by subcommands that do not need the full configuration.
func setupLogger(debug bool) *slog.Logger {
	return logger.Init(debug || os.Getenv("DEBUG") == "true")
}

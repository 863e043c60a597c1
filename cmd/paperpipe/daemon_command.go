package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paperpipe/internal/config"
	"paperpipe/internal/logging"
	"paperpipe/internal/metrics"
	"paperpipe/internal/pipeline"
	"paperpipe/internal/scheduler"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the pipeline daily at schedule.time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "now", false, "Run one pass immediately before waiting for the schedule")
	return cmd
}

func runDaemon(cmdCtx context.Context, ctx *commandContext, runNow bool) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := ctx.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	pruneLogs(cfg, logger)

	recorder := metrics.New()
	if cfg.Metrics.Listen != "" {
		stop := serveMetrics(signalCtx, cfg.Metrics.Listen, recorder, logger)
		defer stop()
	}

	runner, err := ctx.newRunner(logger, pipeline.Dependencies{Metrics: recorder})
	if err != nil {
		return err
	}
	sched, err := scheduler.FromConfig(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("paperpipe daemon started",
		logging.String("schedule", cfg.Schedule.Time),
		logging.String("source", cfg.Source.URL),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	err = sched.Run(signalCtx, runNow, func(runCtx context.Context) error {
		pruneLogs(cfg, logger)
		_, err := runner.RunOnce(runCtx)
		return err
	})
	logger.Info("paperpipe daemon shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func pruneLogs(cfg *config.Config, logger *slog.Logger) {
	current := logging.LogFilePath(cfg.Paths.LogDir, time.Now())
	removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: logging.LogFilePattern,
		Exclude: []string{current},
	})
	if removed > 0 {
		logger.Info("old log files removed", logging.Int("count", removed))
	}
}

// serveMetrics exposes the recorder on addr until ctx ends. The returned
// function shuts the listener down.
func serveMetrics(ctx context.Context, addr string, recorder *metrics.Recorder, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics listener started", logging.String("addr", addr), logging.String("path", "/metrics"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(logger, "metrics listener failed", "metrics_listen_failed",
				logging.String("addr", addr),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check metrics.listen for a free host:port"),
				logging.String(logging.FieldImpact, "metrics are not exported"),
			)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

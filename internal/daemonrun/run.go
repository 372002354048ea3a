package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"speechflow/internal/config"
	"speechflow/internal/daemon"
	"speechflow/internal/events"
	"speechflow/internal/fileutil"
	"speechflow/internal/logging"
	"speechflow/internal/metrics"
	"speechflow/internal/notifications"
	"speechflow/internal/preflight"
	"speechflow/internal/providers"
	"speechflow/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	Version  string
}

// Run starts the speechflow daemon and blocks until SIGINT/SIGTERM or
// cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTargets(cfg)...)
	logPreflightSnapshot(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(signalCtx, cfg)
	if err != nil {
		logger.Error("open state store", logging.Error(err))
		return err
	}

	client, runners, err := providers.NewConfiguredRunners(signalCtx, cfg, logger)
	if err != nil {
		_ = st.Close()
		logger.Error("configure providers", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, daemon.Options{
		Store:    st,
		Runners:  runners,
		Prober:   client,
		Notifier: notifications.NewService(cfg),
		Events:   events.NewHub(0),
		Metrics:  metrics.New(),
		Logger:   logger,
		Version:  opts.Version,
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that no other daemon uses the data directory and that paths.api_bind is free"),
			logging.String(logging.FieldImpact, "no pipelines will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("speechflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return fileutil.WriteFileAtomic(path, []byte(value), 0o644)
}

func logPreflightSnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	results := preflight.RunAll(ctx, cfg)
	failed := preflight.Failed(results)
	logger.Info("preflight snapshot",
		logging.String(logging.FieldEventType, "preflight_snapshot"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
		logging.Bool("access_code_present", strings.TrimSpace(cfg.Provider.AccessCode) != ""),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("upload_backend", cfg.Upload.Backend),
	)
	for _, r := range failed {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "stages depending on this check may fail"),
		)
	}
}

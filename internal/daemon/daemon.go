package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"speechflow/internal/api"
	"speechflow/internal/config"
	"speechflow/internal/events"
	"speechflow/internal/logging"
	"speechflow/internal/metrics"
	"speechflow/internal/notifications"
	"speechflow/internal/pipeline"
	"speechflow/internal/scheduler"
	"speechflow/internal/store"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another speechflow daemon instance is already running")

// Options carries the collaborators built by the caller. Store and Runners
// are required for real use; tests may leave Runners empty.
type Options struct {
	Store      store.Store
	Runners    map[pipeline.Kind]pipeline.Runner
	Prober     scheduler.Prober
	Notifier   notifications.Service
	Events     *events.Hub
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Version    string
	Dispatcher pipeline.Dispatcher
}

// Daemon owns the scheduler and API server for one data directory.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	events    *events.Hub
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	version   string

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	server    *api.Server
	cancel    context.CancelFunc
	startedAt time.Time
	running   atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running   bool
	Info      api.DaemonInfo
	Scheduler scheduler.Status
}

// New constructs a daemon. The lock is taken by Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil || opts.Store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	hub := opts.Events
	if hub == nil {
		hub = events.NewHub(0)
	}
	sched, err := scheduler.New(scheduler.Options{
		Config:     cfg,
		Store:      opts.Store,
		Runners:    opts.Runners,
		Prober:     opts.Prober,
		Notifier:   opts.Notifier,
		Events:     hub,
		Metrics:    opts.Metrics,
		Logger:     logger,
		Dispatcher: opts.Dispatcher,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     opts.Store,
		events:    hub,
		metrics:   opts.Metrics,
		scheduler: sched,
		version:   opts.Version,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the lock, restores persisted state and launches the
// scheduler and API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(d.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.scheduler.ImportState(runCtx); err != nil {
		return fail(fmt.Errorf("import state: %w", err))
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start scheduler: %w", err))
	}

	d.startedAt = time.Now().UTC()
	server, err := api.NewServer(api.Options{
		Bind:       d.cfg.Paths.APIBind,
		Token:      d.cfg.Paths.APIToken,
		Controller: d.scheduler,
		Events:     d.events,
		Metrics:    d.metrics,
		Info:       d.info(),
		Logger:     d.logger,
	})
	if err != nil {
		d.scheduler.Stop()
		return fail(fmt.Errorf("create api server: %w", err))
	}
	if err := server.Start(runCtx); err != nil {
		d.scheduler.Stop()
		return fail(err)
	}

	d.server = server
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("speechflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", server.Addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop shuts down the API server and scheduler and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.server.Stop()
	d.server = nil
	d.scheduler.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("speechflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listen address while running.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server.Addr()
}

// Scheduler exposes the scheduler for in-process callers.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{Running: d.running.Load(), Info: d.info()}
	if status.Running {
		if sched, err := d.scheduler.Status(ctx); err == nil {
			status.Scheduler = sched
		}
	}
	return status
}

func (d *Daemon) info() api.DaemonInfo {
	info := api.DaemonInfo{
		PID:          os.Getpid(),
		Version:      d.version,
		LockFilePath: d.lockPath,
		StoreBackend: d.cfg.Storage.Backend,
		WatchDir:     d.cfg.Paths.WatchDir,
	}
	if info.StoreBackend == "" || info.StoreBackend == "sqlite" {
		info.StoreBackend = "sqlite"
		info.StorePath = d.cfg.DatabasePath()
	}
	if !d.startedAt.IsZero() {
		info.StartedAt = d.startedAt.Format(time.RFC3339)
	}
	return info
}

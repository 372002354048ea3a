package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"speechflow/internal/config"
	"speechflow/internal/events"
	"speechflow/internal/ingest"
	"speechflow/internal/logging"
	"speechflow/internal/metrics"
	"speechflow/internal/notifications"
	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
	"speechflow/internal/store"
)

// ErrStopped is returned when a command is posted to a scheduler that is not
// running.
var ErrStopped = errors.New("scheduler is not running")

// Prober checks and refreshes result URLs after a restart.
type Prober interface {
	Exists(ctx context.Context, rawURL string) bool
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Options wires a Scheduler to its collaborators. Only Config is required.
type Options struct {
	Config   *config.Config
	Store    store.Store
	Runners  map[pipeline.Kind]pipeline.Runner
	Prober   Prober
	Notifier notifications.Service
	Events   *events.Hub
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	// Dispatcher overrides the loop dispatcher. Tests use
	// pipeline.InlineDispatcher to finish stages synchronously.
	Dispatcher pipeline.Dispatcher
}

// Scheduler runs pipelines from the registry.
type Scheduler struct {
	cfg        *config.Config
	store      store.Store
	runners    map[pipeline.Kind]pipeline.Runner
	prober     Prober
	notifier   notifications.Service
	events     *events.Hub
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	dispatcher pipeline.Dispatcher

	registry    *registry.Registry
	template    *pipeline.Template
	pipelineIDs *pipeline.IDGenerator
	stageIDs    *pipeline.IDGenerator
	split       *ingest.SplitPrompt
	ingestor    *ingest.Ingestor
	queue       *ingest.Queue

	// Owned by the loop goroutine.
	processing bool
	everKicked bool
	language   string
	asr        string
	stats      Stats
	listening  map[int64]func()
	reportPath string

	posts chan func()

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds a scheduler with an empty registry. Call ImportState before
// Start to restore persisted pipelines.
func New(opts Options) (*Scheduler, error) {
	if opts.Config == nil {
		return nil, errors.New("scheduler requires a config")
	}
	cfg := opts.Config
	s := &Scheduler{
		cfg:         cfg,
		store:       opts.Store,
		runners:     opts.Runners,
		prober:      opts.Prober,
		notifier:    opts.Notifier,
		events:      opts.Events,
		metrics:     opts.Metrics,
		logger:      logging.NewComponentLogger(opts.Logger, "scheduler"),
		now:         opts.Now,
		registry:    registry.New(),
		template:    templateFromConfig(cfg),
		pipelineIDs: pipeline.NewIDGenerator(0),
		stageIDs:    pipeline.NewIDGenerator(0),
		listening:   make(map[int64]func()),
		posts:       make(chan func()),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = notifications.NewService(nil)
	}
	s.dispatcher = opts.Dispatcher
	if s.dispatcher == nil {
		s.dispatcher = loopDispatcher{s: s}
	}
	lang := cfg.DefaultLanguage()
	s.language, s.asr = lang.Code, lang.ASR

	choice, err := ingest.ParseSplitChoice(cfg.Workflow.SplitChannels)
	if err != nil {
		return nil, err
	}
	s.split = ingest.NewSplitPrompt(choice, s.onSplitAsked)
	s.ingestor = ingest.New(ingest.Options{
		WorkDir:     cfg.Paths.WorkDir,
		Registry:    s.registry,
		Template:    s.template,
		PipelineIDs: s.pipelineIDs,
		StageIDs:    s.stageIDs,
		Defaults:    func() (string, string) { return s.language, s.asr },
		Split:       s.split,
		Owner:       s.own,
		Now:         s.now,
		Logger:      opts.Logger,
	})
	s.queue = ingest.NewQueue(s.ingestor.Process, s.onIngested, s.onIngestDrained, opts.Logger)
	s.registry.Subscribe(s.onRegistryChange)
	s.processing = cfg.Workflow.Autostart
	s.everKicked = s.processing
	return s, nil
}

func templateFromConfig(cfg *config.Config) *pipeline.Template {
	tmpl := pipeline.DefaultTemplate()
	flags := map[pipeline.Kind]bool{
		pipeline.KindASR:                 cfg.Stages.ASR,
		pipeline.KindManualTranscription: cfg.Stages.ManualTranscription,
		pipeline.KindForcedAlignment:     cfg.Stages.ForcedAlignment,
		pipeline.KindPhoneticDetail:      cfg.Stages.PhoneticDetail,
	}
	for kind, enabled := range flags {
		tmpl.SetEnabled(tmpl.Position(kind), enabled)
	}
	return tmpl
}

// Registry exposes the registry for read-only inspection in tests.
func (s *Scheduler) Registry() *registry.Registry { return s.registry }

// Start launches the loop and the ingest worker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("scheduler starting",
		logging.Bool("processing", s.processing),
		logging.Int("max_running", s.maxRunning()),
		logging.Duration("poll_interval", s.cfg.PollInterval()),
	)
	s.metrics.SetProcessing(s.processing)

	s.wg.Add(1)
	go s.loop(runCtx, s.done)

	if err := s.queue.Start(runCtx); err != nil {
		cancel()
		s.running = false
		return err
	}
	s.startWatcher(runCtx)
	return nil
}

// Stop terminates the loop and the ingest worker and waits for both.
// Provider calls in flight are cancelled; their stages are offered again on
// the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.queue.Stop()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	interval := s.cfg.PollInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.posts:
			fn()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) loopState() (context.Context, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx, s.done
}

// post hands fn to the loop. It reports false when the loop is not running.
func (s *Scheduler) post(fn func()) bool {
	_, done := s.loopState()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
	}
	select {
	case s.posts <- fn:
		return true
	case <-done:
		return false
	}
}

// Call runs fn on the loop and waits for it to return.
func (s *Scheduler) Call(ctx context.Context, fn func()) error {
	_, done := s.loopState()
	if done == nil {
		return ErrStopped
	}
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrStopped
	}
}

// own is the ingest Owner hook.
func (s *Scheduler) own(fn func()) {
	ctx, _ := s.loopState()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Call(ctx, fn); err != nil {
		s.logger.Debug("ingest step dropped", logging.Error(err))
	}
}

func (s *Scheduler) context() context.Context {
	ctx, _ := s.loopState()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// loopDispatcher runs provider calls on their own goroutine and delivers the
// outcome on the loop. Outcomes arriving after Stop are dropped.
type loopDispatcher struct {
	s *Scheduler
}

func (d loopDispatcher) Dispatch(call func() pipeline.Outcome, deliver func(pipeline.Outcome)) {
	go func() {
		outcome := call()
		if !d.s.post(func() { deliver(outcome) }) {
			d.s.logger.Warn("provider outcome dropped after shutdown",
				logging.String(logging.FieldEventType, "outcome_dropped"),
				logging.String(logging.FieldErrorHint, "the stage is retried after restart"),
			)
		}
	}()
}

func (s *Scheduler) maxRunning() int {
	if s.cfg.Workflow.MaxRunningTasks > 0 {
		return s.cfg.Workflow.MaxRunningTasks
	}
	return 3
}

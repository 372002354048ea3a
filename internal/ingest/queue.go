package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
)

// ProcessFunc turns one item into entries.
type ProcessFunc func(ctx context.Context, item Item) ([]pipeline.Entry, error)

// Queue is a FIFO of items processed one at a time by a single worker.
// OnResult runs on the worker for every item before the next one starts.
// Drained runs after the last queued item was delivered.
type Queue struct {
	process  ProcessFunc
	onResult func(Result)
	drained  func()
	logger   *slog.Logger

	mu      sync.Mutex
	items   []Item
	running bool
	busy    bool
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewQueue builds a queue around process. onResult and drained may be nil.
func NewQueue(process ProcessFunc, onResult func(Result), drained func(), logger *slog.Logger) *Queue {
	return &Queue{
		process:  process,
		onResult: onResult,
		drained:  drained,
		logger:   logging.NewComponentLogger(logger, "ingest-queue"),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends items in order.
func (q *Queue) Enqueue(items ...Item) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of items waiting, excluding one in progress.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether nothing is queued or in progress.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.busy
}

// Start launches the worker.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("ingest queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	go q.run(runCtx)
	return nil
}

// Stop cancels the worker and waits for the item in progress.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		entries, err := q.process(ctx, item)
		if err != nil {
			q.logger.Warn("ingest item rejected",
				logging.String("path", item.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "ingest_item_rejected"),
			)
		}
		if q.onResult != nil {
			q.onResult(Result{Item: item, Entries: entries, Err: err})
		}

		q.mu.Lock()
		q.busy = false
		empty := len(q.items) == 0
		q.mu.Unlock()
		if empty && q.drained != nil {
			q.drained()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.busy = true
	return item, true
}

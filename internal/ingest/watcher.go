package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"speechflow/internal/logging"
)

const watchCheckInterval = 100 * time.Millisecond

// Watcher enqueues new recordings and transcripts that appear in a
// directory once they stopped changing for the settle delay.
type Watcher struct {
	dir    string
	settle time.Duration
	submit func(Item)
	logger *slog.Logger
}

// NewWatcher builds a watcher for dir. submit receives each settled file.
func NewWatcher(dir string, settle time.Duration, submit func(Item), logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = time.Second
	}
	return &Watcher{
		dir:    dir,
		settle: settle,
		submit: submit,
		logger: logging.NewComponentLogger(logger, "watcher"),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for recordings", logging.String("dir", w.dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !IsCandidateName(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				info, err := os.Stat(path)
				if err != nil || info.IsDir() {
					continue
				}
				w.logger.Debug("settled file queued", logging.String("path", path))
				w.submit(Item{Path: path, Name: filepath.Base(path), Size: info.Size()})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "watch_error"),
			)
		}
	}
}

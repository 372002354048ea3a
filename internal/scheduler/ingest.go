package scheduler

import (
	"context"
	"time"

	"speechflow/internal/events"
	"speechflow/internal/ingest"
	"speechflow/internal/logging"
)

// onIngested runs on the ingest worker for every processed item and
// registers the produced entries on the loop.
func (s *Scheduler) onIngested(result ingest.Result) {
	if result.Err != nil {
		s.metrics.Ingested("rejected")
		s.publish(events.Event{Type: EventIngestRejected, Message: result.Item.Name + ": " + ingest.InvalidFileMessage})
		return
	}
	if len(result.Entries) == 0 {
		s.metrics.Ingested("merged")
		return
	}
	s.own(func() {
		for _, entry := range result.Entries {
			if err := s.registry.Add(entry, true); err != nil {
				s.logger.Warn("ingested entry not registered",
					logging.PipelineID(entry.ID()),
					logging.Error(err),
					logging.String(logging.FieldEventType, "ingest_register_failed"),
				)
				continue
			}
			s.metrics.Ingested("accepted")
		}
		s.refreshStats()
	})
}

// onIngestDrained drops split channels the operator did not choose and,
// when configured, confirms the new pipelines.
func (s *Scheduler) onIngestDrained() {
	s.own(func() {
		if removed := ingest.CheckFiles(s.registry, s.split.Choice()); removed > 0 {
			s.logger.Info("dropped unselected channels", logging.Int("count", removed))
		}
		if s.cfg.Workflow.AutoConfirm {
			s.confirmQueued()
		}
		s.refreshStats()
	})
}

// startWatcher follows paths.watch_dir when it is configured.
func (s *Scheduler) startWatcher(ctx context.Context) {
	dir := s.cfg.Paths.WatchDir
	if dir == "" {
		return
	}
	settle := time.Duration(s.cfg.Workflow.WatchSettleMS) * time.Millisecond
	watcher := ingest.NewWatcher(dir, settle, func(item ingest.Item) { s.queue.Enqueue(item) }, s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := watcher.Run(ctx); err != nil {
			logging.WarnWithContext(s.logger, "watch directory unavailable", "watch_failed",
				logging.String("dir", dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "create paths.watch_dir or clear it in config.toml"),
			)
		}
	}()
}

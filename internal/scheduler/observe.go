package scheduler

import (
	"speechflow/internal/events"
	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
)

// Event types published besides the pipeline event types.
const (
	EventRegistry       = "registry"
	EventSplitRequired  = "split_required"
	EventIngestRejected = "ingest_rejected"
	EventStageCompleted = "stage_completed"
	EventProcessing     = "processing"
)

func (s *Scheduler) publish(evt events.Event) {
	s.events.Publish(evt)
}

func eventFromPipeline(ev pipeline.Event) events.Event {
	out := events.Event{
		Type:       string(ev.Type),
		PipelineID: ev.PipelineID,
		StageID:    ev.StageID,
		Position:   ev.Position,
		Old:        string(ev.Old),
		New:        string(ev.New),
	}
	if ev.Type == pipeline.EventStageState || ev.Type == pipeline.EventStageEnabled {
		out.Stage = ev.Kind.Name()
	}
	if ev.Type == pipeline.EventStageEnabled {
		enabled := ev.Enabled
		out.Enabled = &enabled
	}
	return out
}

func eventFromChange(change registry.Change) events.Event {
	return events.Event{
		Type:       EventRegistry,
		PipelineID: change.Entry.ID(),
		New:        string(change.State),
	}
}

func (s *Scheduler) onPipelineEvent(p *pipeline.Pipeline, ev pipeline.Event) {
	s.publish(eventFromPipeline(ev))
	if ev.Type == pipeline.EventStageState {
		s.stageChanged(p, ev)
	}
	s.persist(p)
	if ev.Type == pipeline.EventStageState {
		s.writeReport()
	}
}

func (s *Scheduler) stageChanged(p *pipeline.Pipeline, ev pipeline.Event) {
	s.metrics.StageChanged(ev.Kind.Name(), string(ev.New))
	st := p.StageByID(ev.StageID)
	if st == nil {
		return
	}
	name := ""
	if file, ok := p.File(0); ok {
		name = file.Name()
	}
	logger := logging.ForStage(s.logger, p.ID(), st.ID(), st.Kind().Slug())

	switch ev.New {
	case pipeline.StateFinished:
		duration := st.Time().Duration
		if !st.Kind().Interactive() {
			s.metrics.StageFinished(ev.Kind.Name(), float64(duration)/1000)
		}
		logger.Info("stage finished",
			logging.String("file", name),
			logging.Int64("duration_ms", duration),
		)
	case pipeline.StateError:
		logging.WarnWithContext(logger, "stage failed", "stage_failed",
			logging.String("file", name),
			logging.String("protocol", st.Protocol()),
			logging.String(logging.FieldErrorHint, "inspect the stage protocol; remove and re-add the file to retry"),
			logging.String(logging.FieldImpact, "the pipeline halts until it is removed"),
		)
	}
	s.notifyStage(st, ev, name)
}

// notifyStage sends the push notification for ev without blocking the loop.
func (s *Scheduler) notifyStage(st *pipeline.Stage, ev pipeline.Event, fileName string) {
	title := st.Kind().Title()
	protocol := st.Protocol()
	var send func() error
	ctx := s.context()
	switch {
	case ev.Kind == pipeline.KindASR && ev.New == pipeline.StateFinished:
		send = func() error { return s.notifier.NotifyTranscriptionReady(ctx, title, fileName) }
	case ev.New == pipeline.StateError:
		send = func() error { return s.notifier.NotifyStageFailed(ctx, title, fileName, protocol) }
	case ev.Kind == pipeline.KindForcedAlignment && ev.New == pipeline.StateFinished:
		send = func() error { return s.notifier.NotifyAlignmentReady(ctx, title, fileName) }
	default:
		return
	}
	go func() {
		if err := send(); err != nil {
			s.logger.Warn("notification failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}()
}

// onSplitAsked runs on the ingest worker when a multi-channel recording
// needs the operator's split answer.
func (s *Scheduler) onSplitAsked() {
	s.logger.Info("multi-channel recording needs a split answer",
		logging.String(logging.FieldEventType, "split_required"),
		logging.String(logging.FieldErrorHint, "run 'speechflow split first|second|both'"),
	)
	s.publish(events.Event{Type: EventSplitRequired, Message: "choose which channels to keep: first, second or both"})
}

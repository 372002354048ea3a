package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"speechflow/internal/events"
	"speechflow/internal/ingest"
	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

// Completion is an operator's result for an interactive stage.
type Completion struct {
	// URL of the result produced in the external tool. Empty completes the
	// stage without a new result.
	URL string `json:"url"`
	// Name of the result file; defaults to the pipeline's first file.
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// SetProcessing starts or stops picking new stages. Calls already in flight
// run to completion either way.
func (s *Scheduler) SetProcessing(ctx context.Context, on bool) error {
	return s.Call(ctx, func() {
		if s.processing == on {
			return
		}
		s.processing = on
		if on {
			s.everKicked = true
		}
		s.metrics.SetProcessing(on)
		s.refreshStats()
		s.logger.Info("processing toggled", logging.Bool("processing", on))
		s.publish(events.Event{Type: EventProcessing, New: s.overallState()})
	})
}

// Enqueue submits local files or directories for ingestion. Paths are
// checked for existence up front so callers get immediate feedback.
func (s *Scheduler) Enqueue(paths []string) (int, error) {
	items := make([]ingest.Item, 0, len(paths))
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return 0, services.Wrap(services.ErrValidation, "scheduler", "enqueue", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return 0, services.Wrap(services.ErrValidation, "scheduler", "enqueue", path, err)
		}
		items = append(items, ingest.Item{Path: abs, Name: filepath.Base(abs), Size: info.Size()})
	}
	if len(items) == 0 {
		return 0, services.Wrap(services.ErrValidation, "scheduler", "enqueue", "no paths given", nil)
	}
	s.queue.Enqueue(items...)
	return len(items), nil
}

// Confirm moves every QUEUED pipeline whose first file is available to
// PENDING. It returns the number of confirmed pipelines.
func (s *Scheduler) Confirm(ctx context.Context) (int, error) {
	var n int
	err := s.Call(ctx, func() { n = s.confirmQueued() })
	return n, err
}

func (s *Scheduler) confirmQueued() int {
	n := 0
	for _, p := range s.registry.Pipelines() {
		if p.State() != pipeline.StateQueued {
			continue
		}
		if file, ok := p.File(0); !ok || !file.Available() {
			continue
		}
		p.ChangeState(pipeline.StatePending)
		n++
	}
	if n > 0 {
		s.refreshStats()
		s.logger.Info("pipelines confirmed", logging.Int("count", n))
	}
	return n
}

// SetLanguage changes the default language and the language of every QUEUED
// pipeline. asr may be empty to keep the first engine for code.
func (s *Scheduler) SetLanguage(ctx context.Context, code, asr string) error {
	lang, ok := s.cfg.LanguageByCode(code, asr)
	if !ok {
		return services.Wrap(services.ErrValidation, "scheduler", "set language",
			fmt.Sprintf("language %q is not configured", code), nil)
	}
	return s.Call(ctx, func() {
		s.language, s.asr = lang.Code, lang.ASR
		for _, p := range s.registry.Pipelines() {
			if p.State() != pipeline.StateQueued {
				continue
			}
			p.SetLanguage(lang.Code, lang.ASR)
			s.persist(p)
		}
		s.saveSetting(settingLanguage, languageSetting{Code: lang.Code, ASR: lang.ASR})
		s.logger.Info("default language changed", logging.String("language", lang.Code), logging.String("asr", lang.ASR))
	})
}

// ToggleStage enables or disables the template stage at position and
// propagates the change to QUEUED pipelines. The positions that had to be
// force-enabled are returned.
func (s *Scheduler) ToggleStage(ctx context.Context, position int, enabled bool) ([]int, error) {
	var (
		forced []int
		err    error
	)
	callErr := s.Call(ctx, func() {
		var queued []*pipeline.Pipeline
		for _, p := range s.registry.Pipelines() {
			if p.State() == pipeline.StateQueued {
				queued = append(queued, p)
			}
		}
		forced, err = s.template.Toggle(position, enabled, queued)
		if err != nil {
			return
		}
		flags := make([]bool, s.template.Len())
		for i := range flags {
			flags[i] = s.template.Enabled(i)
		}
		s.saveSetting(settingStages, flags)
	})
	if callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "toggle stage", "", err)
	}
	return forced, nil
}

// Remove deletes the pipeline or group with id.
func (s *Scheduler) Remove(ctx context.Context, id int64) error {
	var found bool
	err := s.Call(ctx, func() {
		entry, ok := s.registry.FindByID(id)
		if !ok {
			return
		}
		found = s.registry.Remove(entry, true)
		s.refreshStats()
	})
	if err != nil {
		return err
	}
	if !found {
		return services.Wrap(services.ErrNotFound, "scheduler", "remove", fmt.Sprintf("entry %d", id), nil)
	}
	return nil
}

// Complete finishes an interactive stage with the operator's result.
func (s *Scheduler) Complete(ctx context.Context, stageID int64, completion Completion) error {
	var err error
	callErr := s.Call(ctx, func() {
		st, ok := s.registry.FindStage(stageID)
		if !ok {
			err = services.Wrap(services.ErrNotFound, "scheduler", "complete", fmt.Sprintf("stage %d", stageID), nil)
			return
		}
		var result *pipeline.FileRef
		if completion.URL != "" {
			name := completion.Name
			if name == "" {
				if file, ok := st.Pipeline().File(0); ok {
					name = file.Name()
				}
			}
			ref := pipeline.FileRefFromURL(completion.URL, name, st.Kind().ResultType(), s.now().UnixMilli())
			ref.Content = completion.Content
			result = &ref
		}
		if err = st.CompleteInteractive(result); err != nil {
			return
		}
		logging.ForStage(s.logger, st.Pipeline().ID(), stageID, st.Kind().Slug()).Info("interactive stage completed",
			logging.Bool("has_result", result != nil),
			logging.String("message", completion.Message),
		)
		s.publish(events.Event{
			Type:       EventStageCompleted,
			PipelineID: st.Pipeline().ID(),
			StageID:    stageID,
			Stage:      st.Kind().Name(),
			Message:    completion.Message,
		})
		s.refreshStats()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// ToolURL returns the external tool URL for an interactive stage.
func (s *Scheduler) ToolURL(ctx context.Context, stageID int64) (string, error) {
	var (
		url string
		err error
	)
	callErr := s.Call(ctx, func() {
		st, ok := s.registry.FindStage(stageID)
		if !ok {
			err = services.Wrap(services.ErrNotFound, "scheduler", "tool url", fmt.Sprintf("stage %d", stageID), nil)
			return
		}
		var base string
		switch st.Kind() {
		case pipeline.KindManualTranscription:
			base = s.cfg.Provider.ManualToolURL
		case pipeline.KindPhoneticDetail:
			base = s.cfg.Provider.PhoneticToolURL
		default:
			err = services.Wrap(pipeline.ErrNotInteractive, "scheduler", "tool url", fmt.Sprintf("stage %d (%s)", stageID, st.Kind()), nil)
			return
		}
		url = st.ToolURL(base, s.languageFor(st.Pipeline()))
		if url == "" {
			err = services.Wrap(services.ErrValidation, "scheduler", "tool url",
				fmt.Sprintf("stage %d has no uploaded audio or no tool configured", stageID), nil)
		}
	})
	if callErr != nil {
		return "", callErr
	}
	return url, err
}

// SetSplit records the operator's split answer and drops the channels that
// were not chosen. It returns the number of removed pipelines.
func (s *Scheduler) SetSplit(ctx context.Context, choice ingest.SplitChoice) (int, error) {
	switch choice {
	case ingest.SplitFirst, ingest.SplitSecond, ingest.SplitBoth:
	default:
		return 0, services.Wrap(services.ErrValidation, "scheduler", "split",
			fmt.Sprintf("choice must be FIRST, SECOND or BOTH, got %q", choice), nil)
	}
	s.split.Set(choice)
	var removed int
	err := s.Call(ctx, func() {
		removed = ingest.CheckFiles(s.registry, choice)
		s.refreshStats()
	})
	return removed, err
}

// Snapshot returns every top-level entry in registry order.
func (s *Scheduler) Snapshot(ctx context.Context) ([]EntryView, error) {
	var out []EntryView
	err := s.Call(ctx, func() {
		for _, entry := range s.registry.Entries() {
			out = append(out, viewEntry(entry))
		}
	})
	return out, err
}

// Entry returns the entry with id, which may be a grouped pipeline.
func (s *Scheduler) Entry(ctx context.Context, id int64) (EntryView, error) {
	var (
		view  EntryView
		found bool
	)
	err := s.Call(ctx, func() {
		entry, ok := s.registry.FindByID(id)
		if !ok {
			return
		}
		found = true
		view = viewEntry(entry)
	})
	if err != nil {
		return EntryView{}, err
	}
	if !found {
		return EntryView{}, services.Wrap(services.ErrNotFound, "scheduler", "entry", fmt.Sprintf("entry %d", id), nil)
	}
	return view, nil
}

// Status returns the scheduler summary.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.Call(ctx, func() {
		s.refreshStats()
		pipelines := s.registry.Pipelines()
		overall := s.overallState()
		st = Status{
			Processing:   s.processing,
			OverallState: overall,
			Label:        StateLabel(overall, s.stats),
			Stats:        s.stats,
			Progress:     computeProgress(s.stats),
			Averages:     averageDurations(s.template, pipelines),
			Language:     s.language,
			ASR:          s.asr,
			Split:        string(s.split.Choice()),
			IngestQueue:  s.queue.Len(),
			IngestIdle:   s.queue.Idle(),
			ReportPath:   s.reportPath,
			Template:     viewTemplate(s.template),
			LastEventSeq: s.events.Last(),
		}
	})
	return st, err
}

// Tick runs one scheduling pass now instead of waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	return s.Call(ctx, func() { s.tick(s.context()) })
}

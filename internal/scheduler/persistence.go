package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
	"speechflow/internal/services"
	"speechflow/internal/store"
)

const (
	counterPipelines = "pipelineCounter"
	counterStages    = "stageCounter"
	settingLanguage  = "language"
	settingStages    = "stages"
)

type languageSetting struct {
	Code string `json:"code"`
	ASR  string `json:"asr"`
}

func entryKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func entryPipelines(entry pipeline.Entry) []*pipeline.Pipeline {
	switch e := entry.(type) {
	case *pipeline.Pipeline:
		return []*pipeline.Pipeline{e}
	case *pipeline.Group:
		return e.Entries()
	}
	return nil
}

func (s *Scheduler) onRegistryChange(change registry.Change) {
	switch change.State {
	case registry.Added, registry.Changed:
		for _, p := range entryPipelines(change.Entry) {
			s.listen(p)
		}
		if change.Persist {
			s.save(change.Entry)
		}
	case registry.Removed:
		if change.Persist {
			s.removeStored(change.Entry.ID())
		}
	}
	s.pruneListeners()
	s.publish(eventFromChange(change))
}

// listen subscribes to the events of p once.
func (s *Scheduler) listen(p *pipeline.Pipeline) {
	if _, ok := s.listening[p.ID()]; ok {
		return
	}
	s.listening[p.ID()] = p.Subscribe(func(ev pipeline.Event) {
		s.onPipelineEvent(p, ev)
	})
}

// pruneListeners drops subscriptions of pipelines that left the registry.
func (s *Scheduler) pruneListeners() {
	for id, cancel := range s.listening {
		if _, ok := s.registry.FindPipeline(id); !ok {
			cancel()
			delete(s.listening, id)
		}
	}
}

// persist writes the top-level entry holding p.
func (s *Scheduler) persist(p *pipeline.Pipeline) {
	if top, ok := s.registry.TopLevel(p.ID()); ok {
		s.save(top)
	}
}

func (s *Scheduler) save(entry pipeline.Entry) {
	if s.store == nil {
		return
	}
	data, err := pipeline.Encode(entry)
	if err != nil {
		s.storageFailed("encode entry", entry.ID(), err)
		return
	}
	ctx := s.context()
	if err := s.store.Save(ctx, store.CollectionTasks, entryKey(entry.ID()), data); err != nil {
		s.storageFailed("save entry", entry.ID(), err)
		return
	}
	s.saveCounters(ctx)
}

func (s *Scheduler) removeStored(id int64) {
	if s.store == nil {
		return
	}
	if err := s.store.Remove(s.context(), store.CollectionTasks, entryKey(id)); err != nil {
		s.storageFailed("remove entry", id, err)
	}
}

func (s *Scheduler) saveCounters(ctx context.Context) {
	counters := map[string]int64{
		counterPipelines: s.pipelineIDs.Current(),
		counterStages:    s.stageIDs.Current(),
	}
	for key, value := range counters {
		if err := s.store.Save(ctx, store.CollectionCounters, key, []byte(strconv.FormatInt(value, 10))); err != nil {
			s.storageFailed("save counter", 0, err)
		}
	}
}

func (s *Scheduler) saveSetting(key string, value any) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.storageFailed("encode setting", 0, err)
		return
	}
	if err := s.store.Save(s.context(), store.CollectionSettings, key, data); err != nil {
		s.storageFailed("save setting", 0, err)
	}
}

// storageFailed logs a persistence failure. In-memory state is kept.
func (s *Scheduler) storageFailed(operation string, id int64, err error) {
	s.metrics.StorageFailed()
	attrs := []logging.Attr{
		logging.String("operation", operation),
		logging.Error(services.Wrap(services.ErrStorage, "scheduler", operation, "", err)),
		logging.String(logging.FieldErrorHint, "check storage.backend and its connection"),
		logging.String(logging.FieldImpact, "changes are kept in memory but may be lost on restart"),
	}
	if id > 0 {
		attrs = append(attrs, logging.PipelineID(id))
	}
	logging.WarnWithContext(s.logger, "persistence failed", "storage_failed", attrs...)
}

// ImportState restores persisted entries, counters and settings. It must
// run before Start. Records that cannot be decoded are skipped with a
// warning.
func (s *Scheduler) ImportState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.restoreSettings(ctx)

	records, err := s.store.GetAll(ctx, store.CollectionTasks)
	if err != nil {
		return err
	}
	var maxPipeline, maxStage int64
	var imported []pipeline.Entry
	for _, rec := range records {
		entry, err := pipeline.Decode(rec.Value, s.template)
		if err != nil {
			s.logger.Warn("skipping stored entry",
				logging.String("key", rec.Key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "import_entry_skipped"),
				logging.String(logging.FieldErrorHint, "the record was written by an incompatible version"),
			)
			continue
		}
		if err := s.registry.Add(entry, false); err != nil {
			s.logger.Warn("skipping duplicate stored entry", logging.String("key", rec.Key), logging.Error(err))
			continue
		}
		imported = append(imported, entry)
		maxPipeline = max(maxPipeline, entry.ID())
		for _, p := range entryPipelines(entry) {
			maxPipeline = max(maxPipeline, p.ID())
			for _, st := range p.Stages() {
				maxStage = max(maxStage, st.ID())
			}
		}
	}

	s.restoreCounter(ctx, counterPipelines, s.pipelineIDs, maxPipeline)
	s.restoreCounter(ctx, counterStages, s.stageIDs, maxStage)

	for _, entry := range imported {
		if s.probeResults(ctx, entry) {
			s.save(entry)
		}
	}
	s.stats = computeStats(s.registry.Pipelines())
	s.logger.Info("state imported",
		logging.Int("entries", len(imported)),
		logging.Int64("pipeline_counter", s.pipelineIDs.Current()),
		logging.Int64("stage_counter", s.stageIDs.Current()),
	)
	return nil
}

func (s *Scheduler) restoreCounter(ctx context.Context, key string, gen *pipeline.IDGenerator, seen int64) {
	data, err := s.store.Get(ctx, store.CollectionCounters, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.storageFailed("read counter", 0, err)
	}
	if err == nil {
		if stored, parseErr := strconv.ParseInt(string(data), 10, 64); parseErr == nil {
			gen.Restore(stored)
		}
	}
	if gen.Restore(seen) {
		s.logger.Warn("id counter was behind stored entries",
			logging.String("counter", key),
			logging.Int64("restored_to", seen),
			logging.String(logging.FieldEventType, "counter_behind"),
		)
	}
}

func (s *Scheduler) restoreSettings(ctx context.Context) {
	if data, err := s.store.Get(ctx, store.CollectionSettings, settingLanguage); err == nil {
		var lang languageSetting
		if json.Unmarshal(data, &lang) == nil && lang.Code != "" {
			if _, ok := s.cfg.LanguageByCode(lang.Code, lang.ASR); ok {
				s.language, s.asr = lang.Code, lang.ASR
			}
		}
	}
	if data, err := s.store.Get(ctx, store.CollectionSettings, settingStages); err == nil {
		var flags []bool
		if json.Unmarshal(data, &flags) == nil && len(flags) == s.template.Len() {
			for i, enabled := range flags {
				s.template.SetEnabled(i, enabled)
			}
		}
	}
}

// probeResults checks every result URL of entry with HEAD and refreshes the
// content of online text results that were stored without it. It reports
// whether anything persisted changed.
func (s *Scheduler) probeResults(ctx context.Context, entry pipeline.Entry) bool {
	if s.prober == nil {
		return false
	}
	changed := false
	for _, p := range entryPipelines(entry) {
		for _, st := range p.Stages() {
			for i, result := range st.Results() {
				if result.URL == "" {
					continue
				}
				online := s.prober.Exists(ctx, result.URL)
				content := ""
				if online && !result.IsWAV() && result.Content == "" {
					fetched, err := s.prober.Fetch(ctx, result.URL)
					if err != nil {
						s.logger.Debug("result content refresh failed",
							logging.PipelineID(p.ID()),
							logging.String("url", result.URL),
							logging.Error(err),
						)
					} else {
						content = fetched
						changed = true
					}
				}
				st.UpdateResult(i, func(f *pipeline.FileRef) {
					f.Online = online
					if content != "" {
						f.Content = content
					}
				})
			}
		}
	}
	return changed
}

package scheduler

import (
	"context"
	"fmt"
	"math"

	"speechflow/internal/logging"
	"speechflow/internal/metrics"
	"speechflow/internal/pipeline"
	"speechflow/internal/providers"
)

// Overall scheduler states.
const (
	OverallNotStarted = "not started"
	OverallProcessing = "processing"
	OverallStopped    = "stopped"
)

// Stats counts pipelines per scheduler bucket.
type Stats struct {
	Queued   int `json:"queued"`
	Waiting  int `json:"waiting"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
	Errors   int `json:"errors"`
}

// Total is the number of counted pipelines.
func (s Stats) Total() int {
	return s.Queued + s.Waiting + s.Running + s.Finished + s.Errors
}

// Progress holds percentages of the pipeline total.
type Progress struct {
	Waiting    float64 `json:"waiting"`
	Processing float64 `json:"processing"`
	Finished   float64 `json:"finished"`
	Failed     float64 `json:"failed"`
}

func computeStats(pipelines []*pipeline.Pipeline) Stats {
	var out Stats
	for _, p := range pipelines {
		switch p.State() {
		case pipeline.StateProcessing, pipeline.StateUploading:
			out.Running++
		case pipeline.StatePending, pipeline.StateReady:
			out.Waiting++
		case pipeline.StateQueued:
			out.Queued++
		case pipeline.StateFinished:
			out.Finished++
		case pipeline.StateError:
			out.Errors++
		}
	}
	return out
}

func computeProgress(stats Stats) Progress {
	total := stats.Total()
	if total == 0 {
		return Progress{}
	}
	pct := func(n int) float64 { return float64(n) / float64(total) * 100 }
	return Progress{
		Waiting:    pct(stats.Waiting + stats.Queued),
		Processing: pct(stats.Running),
		Finished:   pct(stats.Finished),
		Failed:     pct(stats.Errors),
	}
}

// averageDurations returns, for every stage position except the last, the
// mean duration of finished stages in minutes rounded up to two decimals.
func averageDurations(tmpl *pipeline.Template, pipelines []*pipeline.Pipeline) []float64 {
	n := tmpl.Len() - 1
	if n < 0 {
		n = 0
	}
	sums := make([]int64, n)
	counts := make([]int, n)
	for _, p := range pipelines {
		for i, st := range p.Stages() {
			if i >= n || st.State() != pipeline.StateFinished || st.Time().Duration <= 0 {
				continue
			}
			sums[i] += st.Time().Duration
			counts[i]++
		}
	}
	out := make([]float64, n)
	for i := range out {
		if counts[i] == 0 {
			continue
		}
		minutes := float64(sums[i]) / float64(counts[i]) / 60000
		out[i] = math.Ceil(minutes*100) / 100
	}
	return out
}

func (s *Scheduler) refreshStats() {
	s.stats = computeStats(s.registry.Pipelines())
	s.metrics.ObserveStats(metrics.Stats(s.stats))
}

func (s *Scheduler) overallState() string {
	switch {
	case !s.everKicked:
		return OverallNotStarted
	case s.processing:
		return OverallProcessing
	default:
		return OverallStopped
	}
}

// StateLabel renders the operator-facing summary line.
func StateLabel(overall string, stats Stats) string {
	queuedMsg := fmt.Sprintf("%d audio file(s) waiting to be verified by you.", stats.Queued)
	switch overall {
	case OverallProcessing:
		if stats.Running > 0 {
			return "Processing..."
		}
		switch {
		case stats.Waiting > 1:
			return fmt.Sprintf("%d tasks need your attention", stats.Waiting)
		case stats.Waiting == 1:
			return "1 task needs your attention"
		case stats.Queued > 0:
			return queuedMsg
		}
		return "All jobs done. Waiting for new tasks..."
	case OverallNotStarted:
		if stats.Queued > 0 {
			return queuedMsg
		}
		return "Ready"
	default:
		if stats.Running > 0 {
			return fmt.Sprintf("waiting for %d tasks to stop their work...", stats.Running)
		}
		return "Stopped"
	}
}

// FindNextWaitingTask returns the first pipeline in registry order that
// can start a stage now, or nil.
func FindNextWaitingTask(pipelines []*pipeline.Pipeline) *pipeline.Pipeline {
	for _, p := range pipelines {
		switch p.State() {
		case pipeline.StatePending:
			if file, ok := p.File(0); ok && file.IsWAV() && file.Local() {
				return p
			}
			if first := p.Stage(0); first != nil {
				if last := first.LastResult(); last != nil && last.Online {
					return p
				}
			}
		case pipeline.StateReady:
			if readyToContinue(p) {
				return p
			}
		}
	}
	return nil
}

// readyToContinue reports whether p has a stage the scheduler may start. A
// PENDING interactive stage qualifies so that starting it parks the
// pipeline in READY; once READY it waits for a completion message.
func readyToContinue(p *pipeline.Pipeline) bool {
	return p.NextStartable() != nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.processing {
		return
	}
	s.refreshStats()
	for _, p := range s.registry.Pipelines() {
		if first := p.Stage(0); first != nil && first.State() == pipeline.StateUploading {
			return
		}
	}
	if s.stats.Running >= s.maxRunning() {
		return
	}
	next := FindNextWaitingTask(s.registry.Pipelines())
	if next == nil {
		return
	}
	s.listen(next)
	s.persist(next)

	stage, ok := next.Start(ctx, s.envFor(next))
	if !ok {
		return
	}
	logging.ForStage(s.logger, next.ID(), stage.ID(), stage.Kind().Slug()).Info("stage started",
		logging.String("language", next.Language()),
	)
	s.refreshStats()
}

func (s *Scheduler) envFor(p *pipeline.Pipeline) pipeline.Env {
	return pipeline.Env{
		Language:    s.languageFor(p),
		Runners:     s.runners,
		Dispatcher:  s.dispatcher,
		Credentials: []pipeline.Credential{{Name: providers.CredentialAccessCode, Value: s.cfg.Provider.AccessCode}},
		Now:         s.now,
	}
}

func (s *Scheduler) languageFor(p *pipeline.Pipeline) pipeline.Language {
	lang, ok := s.cfg.LanguageByCode(p.Language(), p.Provider())
	if !ok {
		lang = s.cfg.DefaultLanguage()
		s.logger.Warn("pipeline language not configured; using default",
			logging.PipelineID(p.ID()),
			logging.String("language", p.Language()),
			logging.String("default", lang.Code),
			logging.String(logging.FieldEventType, "language_fallback"),
			logging.String(logging.FieldErrorHint, "add the language to [[languages]] in config.toml"),
		)
	}
	return pipeline.Language{Code: lang.Code, ASR: lang.ASR, Host: lang.Host, MausLanguage: lang.MausLanguage}
}

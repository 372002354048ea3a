// Package metrics exposes scheduler statistics and stage transitions to
// prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats mirrors the scheduler's pipeline counts.
type Stats struct {
	Queued   int
	Waiting  int
	Running  int
	Finished int
	Errors   int
}

// Metrics holds the collectors registered for one daemon.
type Metrics struct {
	registry *prometheus.Registry

	Pipelines        *prometheus.GaugeVec
	StageTransitions *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	IngestedFiles    *prometheus.CounterVec
	ProcessingActive prometheus.Gauge
	StorageErrors    prometheus.Counter
}

// New registers the speechflow collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Pipelines: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "speechflow",
				Name:      "pipelines",
				Help:      "Number of pipelines per scheduler bucket.",
			},
			[]string{"bucket"},
		),
		StageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "speechflow",
				Name:      "stage_transitions_total",
				Help:      "Stage state transitions by stage kind and new state.",
			},
			[]string{"stage", "state"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "speechflow",
				Name:      "stage_duration_seconds",
				Help:      "Wall time of finished stages.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"stage"},
		),
		IngestedFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "speechflow",
				Name:      "ingested_files_total",
				Help:      "Files accepted or rejected by the ingestor.",
			},
			[]string{"result"},
		),
		ProcessingActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "speechflow",
				Name:      "processing_active",
				Help:      "1 when the scheduler is started.",
			},
		),
		StorageErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "speechflow",
				Name:      "storage_errors_total",
				Help:      "Failed persistence operations.",
			},
		),
	}
}

// ObserveStats sets the pipeline gauges.
func (m *Metrics) ObserveStats(s Stats) {
	if m == nil {
		return
	}
	m.Pipelines.WithLabelValues("queued").Set(float64(s.Queued))
	m.Pipelines.WithLabelValues("waiting").Set(float64(s.Waiting))
	m.Pipelines.WithLabelValues("running").Set(float64(s.Running))
	m.Pipelines.WithLabelValues("finished").Set(float64(s.Finished))
	m.Pipelines.WithLabelValues("errors").Set(float64(s.Errors))
}

// StageChanged counts a transition.
func (m *Metrics) StageChanged(stage, state string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(stage, state).Inc()
}

// StageFinished records how long a stage ran.
func (m *Metrics) StageFinished(stage string, seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// Ingested counts an ingested file by result ("accepted", "merged", "rejected").
func (m *Metrics) Ingested(result string) {
	if m == nil {
		return
	}
	m.IngestedFiles.WithLabelValues(result).Inc()
}

// SetProcessing reflects the scheduler's running flag.
func (m *Metrics) SetProcessing(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ProcessingActive.Set(1)
		return
	}
	m.ProcessingActive.Set(0)
}

// StorageFailed counts a persistence failure.
func (m *Metrics) StorageFailed() {
	if m == nil {
		return
	}
	m.StorageErrors.Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

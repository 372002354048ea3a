package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"speechflow/internal/metrics"
)

func TestHandlerExposesObservedValues(t *testing.T) {
	m := metrics.New()
	m.ObserveStats(metrics.Stats{Queued: 2, Running: 1})
	m.StageChanged("ASR", "FINISHED")
	m.SetProcessing(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`speechflow_pipelines{bucket="queued"} 2`,
		`speechflow_pipelines{bucket="running"} 1`,
		`speechflow_stage_transitions_total{stage="ASR",state="FINISHED"} 1`,
		`speechflow_processing_active 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveStats(metrics.Stats{})
	m.StageChanged("ASR", "ERROR")
	m.StorageFailed()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics, got %d", rec.Code)
	}
}

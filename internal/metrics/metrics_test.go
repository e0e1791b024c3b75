package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveExecution("fn", true, time.Second)
	m.Retry()
	m.Rejected("disabled")
	m.TaskFinished(false)
	m.PipelineFinished("failed", "stage")
	m.Sweep()
	m.Dispatched("job")
	m.SetHealth(2)
	m.RunningDelta(1)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveExecution("content_pipeline", false, 120*time.Millisecond)
	m.Rejected("already_running")
	m.SetHealth(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`cronsmith_job_executions_total{function="content_pipeline",status="failed"} 1`,
		`cronsmith_job_rejections_total{reason="already_running"} 1`,
		`cronsmith_health_status 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

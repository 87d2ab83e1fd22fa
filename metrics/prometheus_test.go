package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordUsage(t *testing.T) {
	m := NewMetrics()
	m.RecordUsage(10, 5, 15)
	m.RecordUsage(1, 2, 3)

	if got := testutil.ToFloat64(m.Tokens.WithLabelValues("total")); got != 18 {
		t.Errorf("expected 18 total tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.Tokens.WithLabelValues("prompt")); got != 11 {
		t.Errorf("expected 11 prompt tokens, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.FramesPlayed.Inc()
	m.ToolCalls.WithLabelValues("end_intake_and_summarize", "ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"intake_frames_played_total 1",
		`intake_tool_calls_total{name="end_intake_and_summarize",result="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.TurnsCompleted.Inc()
	if testutil.ToFloat64(b.TurnsCompleted) != 0 {
		t.Error("metrics instances must not share state")
	}
}

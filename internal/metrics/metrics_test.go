package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Transition("approval", "approve")
	m.Transition("approval", "approve")
	m.ToolCall("CreateValue", OutcomeOK, 10*time.Millisecond)
	m.ToolCall("CreateValue", OutcomeError, time.Millisecond)
	m.Run("approval", OutcomeSkipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("approval", "approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("CreateValue", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("approval", OutcomeSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.toolTime))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("w", "t")
		m.ToolCall("x", OutcomeOK, time.Second)
		m.Run("w", OutcomeCompleted)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Run("approval", OutcomeCompleted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `waypoint_runs_total{outcome="completed",workflow="approval"} 1`))
}

// Package metrics exposes engine counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeOK        = "ok"
	OutcomeError     = "error"
)

// Recorder receives engine measurements. A nil *Metrics is a valid no-op
// recorder.
type Recorder interface {
	Transition(workflow, transition string)
	ToolCall(tool, outcome string, d time.Duration)
	Run(workflow, outcome string)
}

// Metrics holds the collectors, registered on their own registry so tests
// and embedded engines never collide on the global one.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	toolTime    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_transitions_total",
			Help: "Committed transitions by workflow and transition id.",
		}, []string{"workflow", "transition"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_tool_calls_total",
			Help: "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waypoint_tool_duration_seconds",
			Help:    "Tool call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_runs_total",
			Help: "Runs by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
	}
	m.registry.MustRegister(m.transitions, m.toolCalls, m.toolTime, m.runs)
	return m
}

func (m *Metrics) Transition(workflow, transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(workflow, transition).Inc()
}

func (m *Metrics) ToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolTime.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) Run(workflow, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(workflow, outcome).Inc()
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ Recorder = (*Metrics)(nil)

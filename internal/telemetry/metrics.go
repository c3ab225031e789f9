package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. Each instance has its own
// registry so tests and multiple coordinators do not collide.
type Metrics struct {
	registry          *prometheus.Registry
	runsTotal         *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	gateRejections    *prometheus.CounterVec
	sandboxExecutions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optimo_runs_total",
			Help: "Pipeline runs that reached a terminal or suspended state, by state.",
		}, []string{"state"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optimo_stage_duration_seconds",
			Help:    "Wall-clock duration of one stage invocation.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		gateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optimo_gate_rejections_total",
			Help: "Generated programs rejected by the quality gate, by reason.",
		}, []string{"reason"}),
		sandboxExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optimo_sandbox_executions_total",
			Help: "Sandbox executions, by result (success, error, timeout, infrastructure).",
		}, []string{"result"}),
	}
}

// The record methods accept a nil receiver so components can run without metrics.

func (m *Metrics) RunFinished(state string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) GateRejected(reason string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) SandboxExecuted(result string) {
	if m == nil {
		return
	}
	m.sandboxExecutions.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

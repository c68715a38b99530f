// Package metrics exposes orchestrator counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one orchestrator instance.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted        prometheus.Counter
	RunsEnded          *prometheus.CounterVec
	TaskAttempts       *prometheus.CounterVec
	PlanReviews        *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	AnnotationsDropped prometheus.Counter
	ActiveRuns         prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "runs_started_total",
			Help:      "Runs started.",
		}),
		RunsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "runs_ended_total",
			Help:      "Runs that left the active states, by final status.",
		}, []string{"status"}),
		TaskAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "task_attempts_total",
			Help:      "Executed plan tasks by outcome.",
		}, []string{"outcome"}),
		PlanReviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "plan_reviews_total",
			Help:      "Plan review decisions.",
		}, []string{"status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autopilot",
			Name:      "provider_call_seconds",
			Help:      "Provider call latency by role and result.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"role", "provider", "result"}),
		AnnotationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autopilot",
			Name:      "annotations_dropped_total",
			Help:      "Annotations dropped because a preview was not keeping up.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autopilot",
			Name:      "active_runs",
			Help:      "Runs currently in flight.",
		}),
	}
	m.registry.MustRegister(
		m.RunsStarted, m.RunsEnded, m.TaskAttempts, m.PlanReviews,
		m.ProviderLatency, m.AnnotationsDropped, m.ActiveRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveProviderCall records one provider call.
func (m *Metrics) ObserveProviderCall(role, provider string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderLatency.WithLabelValues(role, provider, result).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

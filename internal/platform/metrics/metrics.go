// Package metrics exposes Prometheus metrics for task processing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/mediascribe/internal/events"
)

const namespace = "mediascribe"

// Engine attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeTerminal  = "terminal"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	tasksFinished  *prometheus.CounterVec
	engineAttempts *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
}

var _ events.EventHandler = (*Metrics)(nil)

// New creates the collectors and registers them with registry. A nil
// registry gets a fresh one with the Go runtime and process collectors.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Tasks that reached a terminal status.",
			},
			[]string{"kind", "engine", "status"},
		),
		engineAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_attempts_total",
				Help:      "Engine invocations partitioned by outcome.",
			},
			[]string{"engine", "outcome"},
		),
		engineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_duration_seconds",
				Help:      "Time spent in a single engine invocation.",
				// 0.25s to ~4m
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 11),
			},
			[]string{"engine"},
		),
	}

	for _, c := range []prometheus.Collector{m.tasksFinished, m.engineAttempts, m.engineDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HandleEvent counts finished tasks.
func (m *Metrics) HandleEvent(_ context.Context, event *events.TaskFinishedEvent) error {
	m.tasksFinished.WithLabelValues(string(event.Kind), event.Engine, string(event.Status)).Inc()
	return nil
}

// ObserveAttempt records one engine invocation.
func (m *Metrics) ObserveAttempt(engine, outcome string, d time.Duration) {
	m.engineAttempts.WithLabelValues(engine, outcome).Inc()
	m.engineDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Package metrics exposes prometheus collectors for the orchestration core.
// Step and run counters are driven by the event stream (the Metrics value is
// an EventSink); connection gauges are updated by the connection manager.
package metrics

import (
	"go-baton/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StepsStarted   prometheus.Counter
	StepsSucceeded prometheus.Counter
	StepsFailed    prometheus.Counter
	StepRetries    prometheus.Counter
	EventsDropped  prometheus.Counter

	ActiveRuns        prometheus.Gauge
	ActiveConnections prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "baton_steps_started_total",
			Help: "Pipeline steps dispatched to agents.",
		}),
		StepsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "baton_steps_succeeded_total",
			Help: "Pipeline steps that reached a successful terminal state.",
		}),
		StepsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "baton_steps_failed_total",
			Help: "Pipeline steps that reached a failed terminal state.",
		}),
		StepRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "baton_step_retries_total",
			Help: "Retry attempts across all steps.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "baton_events_dropped_total",
			Help: "Non-terminal events dropped or coalesced under backpressure.",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "baton_active_runs",
			Help: "Pipeline runs currently executing.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "baton_active_connections",
			Help: "Open caller connections.",
		}),
	}
}

// RunStarted is called by the service when a run is accepted; the matching
// decrement happens when the run's terminal event passes through Publish.
func (m *Metrics) RunStarted() { m.ActiveRuns.Inc() }

// Publish implements ports.EventSink.
func (m *Metrics) Publish(event domain.ExecutionEvent) {
	switch event.Type {
	case domain.EventStepStarted:
		m.StepsStarted.Inc()
	case domain.EventStepRetrying:
		m.StepRetries.Inc()
	case domain.EventStepSucceeded:
		m.StepsSucceeded.Inc()
	case domain.EventStepFailed:
		m.StepsFailed.Inc()
	case domain.EventRunCompleted, domain.EventRunFailed:
		m.ActiveRuns.Dec()
	}
}

// Package observability defines the engine's Prometheus metric set.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter the engine exposes. One instance is shared by
// the Guardians of a process and registered once.
type Metrics struct {
	Dispatches  *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Retries     *prometheus.CounterVec
	Escalations *prometheus.CounterVec
	Signals     *prometheus.CounterVec
	Checkpoints prometheus.Counter
}

// New creates an unregistered metric set.
func New() *Metrics {
	return &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attractor_node_dispatches_total",
			Help: "Runner dispatches, by pipeline.",
		}, []string{"pipeline"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attractor_node_transitions_total",
			Help: "Lifecycle transitions applied, by pipeline and target status.",
		}, []string{"pipeline", "to"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attractor_node_retries_total",
			Help: "Node retries after failed validation, by pipeline.",
		}, []string{"pipeline"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attractor_escalations_total",
			Help: "Issues escalated to the terminal layer, by pipeline.",
		}, []string{"pipeline"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attractor_signals_total",
			Help: "Signals handled, by type.",
		}, []string{"type"}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attractor_checkpoints_total",
			Help: "Checkpoints written.",
		}),
	}
}

// Register adds all metrics to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Dispatches, m.Transitions, m.Retries, m.Escalations, m.Signals, m.Checkpoints,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistered creates a metric set registered on a fresh registry.
func NewRegistered() (*Metrics, *prometheus.Registry) {
	m := New()
	reg := prometheus.NewRegistry()
	// Registration on a fresh registry cannot collide.
	_ = m.Register(reg)
	return m, reg
}

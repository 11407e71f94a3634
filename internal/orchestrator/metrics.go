package orchestrator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts lifecycle activity.
type Metrics struct {
	ProbeAttempts       *prometheus.CounterVec // by operation
	ConvergenceTimeouts *prometheus.CounterVec // by operation
	Transitions         *prometheus.CounterVec // by target state
}

// NewMetrics creates the counters and registers them on reg (nil skips
// registration). Counters already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ProbeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cstar_readiness_probe_attempts_total",
			Help: "Readiness probes issued",
		}, []string{"operation"}),
		ConvergenceTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cstar_readiness_timeouts_total",
			Help: "Readiness checks that ran out of retries",
		}, []string{"operation"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cstar_node_transitions_total",
			Help: "Node state transitions recorded",
		}, []string{"state"}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []**prometheus.CounterVec{&m.ProbeAttempts, &m.ConvergenceTimeouts, &m.Transitions} {
		if err := reg.Register(*c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			*c = already.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m, nil
}

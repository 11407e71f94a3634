package buildcache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache activity.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Evictions     prometheus.Counter
	BuildFailures prometheus.Counter
	Stale         prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg (nil skips
// registration). Counters already registered by an earlier cache are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cstar_buildcache_hits_total",
			Help: "Build requests served from the cache",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cstar_buildcache_misses_total",
			Help: "Build requests that ran a build",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cstar_buildcache_evictions_total",
			Help: "Cached builds removed by the retention limit",
		}),
		BuildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cstar_buildcache_build_failures_total",
			Help: "Builds that failed",
		}),
		Stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cstar_buildcache_stale_total",
			Help: "Cache entries dropped because the build was missing on the build host",
		}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []*prometheus.Counter{&m.Hits, &m.Misses, &m.Evictions, &m.BuildFailures, &m.Stale} {
		if err := reg.Register(*c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			*c = already.ExistingCollector.(prometheus.Counter)
		}
	}
	return m, nil
}

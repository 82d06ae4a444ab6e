package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promMirror holds the Prometheus collectors that shadow Metrics' own
// counters, registered on their own registry so a Metrics instance never
// collides with another's on the default global one.
type promMirror struct {
	registry        *prometheus.Registry
	created         prometheus.Counter
	retired         prometheus.Counter
	failed          prometheus.Counter
	evictions       prometheus.Counter
	hits            prometheus.Counter
	misses          prometheus.Counter
	requestDuration prometheus.Histogram
}

func newPromMirror() *promMirror {
	registry := prometheus.NewRegistry()

	p := &promMirror{
		registry: registry,
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "workers_created_total",
			Help: "Total worker instances spawned.",
		}),
		retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "workers_retired_total",
			Help: "Total worker instances retired (evicted or expired).",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "worker_spawn_failures_total",
			Help: "Total worker spawn attempts that failed.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "evictions_total",
			Help: "Total LRU evictions due to pool capacity.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "cache_hits_total",
			Help: "Total requests served by an already-warm worker.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "cache_misses_total",
			Help: "Total requests that required spawning a new worker.",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apprun", Subsystem: "pool", Name: "request_duration_seconds",
			Help:    "Duration of dispatched requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
	registry.MustRegister(p.created, p.retired, p.failed, p.evictions, p.hits, p.misses, p.requestDuration)
	return p
}

// Handler returns an HTTP handler exposing the Prometheus mirror in the
// standard exposition format. Returns nil if EnablePrometheus was never
// called.
func (m *Metrics) Handler() http.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prom == nil {
		return nil
	}
	return promhttp.HandlerFor(m.prom.registry, promhttp.HandlerOpts{})
}

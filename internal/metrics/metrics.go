// Package metrics provides the Prometheus collectors for engine and session activity.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	engineSpawns   prometheus.Counter
	engineRestarts prometheus.Counter
	engineFatal    prometheus.Counter
	searches       prometheus.Counter
	staleReplies   prometheus.Counter
	sessions       prometheus.Gauge
	searchNPS      prometheus.Histogram
}

// New registers the collectors on registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		engineSpawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carp_engine_spawns_total",
			Help: "Compute units spawned.",
		}),
		engineRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carp_engine_restarts_total",
			Help: "Compute units torn down by an explicit restart.",
		}),
		engineFatal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carp_engine_fatal_total",
			Help: "Compute units that crashed or failed to load.",
		}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carp_engine_searches_total",
			Help: "Search requests posted to a compute unit.",
		}),
		staleReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carp_engine_stale_replies_total",
			Help: "Engine replies discarded because the game moved on.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carp_sessions_active",
			Help: "Board sessions currently running.",
		}),
		searchNPS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carp_search_nps",
			Help:    "Nodes per second reported by finished searches.",
			Buckets: prometheus.ExponentialBuckets(1e4, 4, 10),
		}),
	}
	m.engineSpawns = register(registry, m.engineSpawns)
	m.engineRestarts = register(registry, m.engineRestarts)
	m.engineFatal = register(registry, m.engineFatal)
	m.searches = register(registry, m.searches)
	m.staleReplies = register(registry, m.staleReplies)
	m.sessions = register(registry, m.sessions)
	m.searchNPS = register(registry, m.searchNPS)
	return m
}

// register returns the already registered collector when one with the same
// descriptor exists, so several Metrics values may share a registry.
func register[T prometheus.Collector](registry prometheus.Registerer, c T) T {
	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) EngineSpawned() {
	if m == nil {
		return
	}
	m.engineSpawns.Inc()
}

func (m *Metrics) EngineRestarted() {
	if m == nil {
		return
	}
	m.engineRestarts.Inc()
}

func (m *Metrics) EngineFatal() {
	if m == nil {
		return
	}
	m.engineFatal.Inc()
}

func (m *Metrics) SearchIssued() {
	if m == nil {
		return
	}
	m.searches.Inc()
}

func (m *Metrics) StaleReply() {
	if m == nil {
		return
	}
	m.staleReplies.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) ObserveNPS(nps uint64) {
	if m == nil || nps == 0 {
		return
	}
	m.searchNPS.Observe(float64(nps))
}

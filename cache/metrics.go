package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts memoize activity per operation. A nil *Metrics records
// nothing.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	stores    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	evictions prometheus.Counter
}

// NewMetrics creates the cache counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"operation"})
	}
	m := &Metrics{
		hits:   counter("hits_total", "Memoized calls served from the cache backend."),
		misses: counter("misses_total", "Memoized calls that invoked the wrapped operation."),
		stores: counter("stores_total", "Results written to the cache backend."),
		errors: counter("errors_total", "Cache backend errors that were ignored."),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from a memory backend to respect its size limit.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.stores, m.errors, m.evictions)
	}
	return m
}

// Evicted counts an eviction. It has the shape expected by WithOnEvict.
func (m *Metrics) Evicted(string, any) {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) hit(op string) {
	if m != nil {
		m.hits.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) miss(op string) {
	if m != nil {
		m.misses.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) store(op string) {
	if m != nil {
		m.stores.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) failed(op string) {
	if m != nil {
		m.errors.WithLabelValues(op).Inc()
	}
}

// Package metrics exports the tracker counters to Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich"
)

const namespace = "pulsetrack"

// Connection states reported by the state gauge.
var states = []string{"idle", "connecting", "open", "closing", "reconnecting"}

// Metrics holds the collectors of one tracker.
type Metrics struct {
	received    prometheus.Counter
	malformed   prometheus.Counter
	filtered    *prometheus.CounterVec
	emitted     prometheus.Counter
	errors      *prometheus.CounterVec
	reconnects  prometheus.Counter
	exhaustions prometheus.Counter
	state       *prometheus.GaugeVec
	subjects    prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer, net string) *Metrics {
	labels := prometheus.Labels{"net": net}

	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_received_total", ConstLabels: labels,
			Help: "Transaction notifications received from the stream.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_malformed_total", ConstLabels: labels,
			Help: "Transaction notifications that could not be normalized.",
		}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_filtered_total", ConstLabels: labels,
			Help: "Transactions dropped by the relevance filter, by rejecting check.",
		}, []string{"check"}),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_emitted_total", ConstLabels: labels,
			Help: "Enriched transactions delivered to observers.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", ConstLabels: labels,
			Help: "Errors surfaced to observers, by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_connects_total", ConstLabels: labels,
			Help: "Successful stream connections, including reconnections.",
		}),
		exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_reconnect_exhausted_total", ConstLabels: labels,
			Help: "Times the stream gave up reconnecting.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_state", ConstLabels: labels,
			Help: "1 for the current stream connection state.",
		}, []string{"state"}),
		subjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subjects_tracked", ConstLabels: labels,
			Help: "Subjects currently tracked.",
		}),
	}

	reg.MustRegister(m.received, m.malformed, m.filtered, m.emitted, m.errors, m.reconnects, m.exhaustions, m.state,
		m.subjects)

	return m
}

// RegisterCache exports the counters of an enrichment cache.
func RegisterCache(reg prometheus.Registerer, net string, stats func() enrich.Stats) {
	labels := prometheus.Labels{"net": net}

	counter := func(name, help string, f func(enrich.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "enrich", Name: name, Help: help, ConstLabels: labels,
		}, func() float64 { return float64(f(stats())) })
	}

	reg.MustRegister(
		counter("hits_total", "Metadata lookups answered from the cache.", func(s enrich.Stats) uint64 { return s.Hits }),
		counter("misses_total", "Metadata lookups not answered from the cache.",
			func(s enrich.Stats) uint64 { return s.Misses }),
		counter("fetches_total", "Metadata fetch attempts.", func(s enrich.Stats) uint64 { return s.Fetches }),
		counter("fetch_failures_total", "Metadata fetches that failed after all retries.",
			func(s enrich.Stats) uint64 { return s.FetchFailures }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "enrich", Name: "entries", ConstLabels: labels,
			Help: "Metadata records cached.",
		}, func() float64 { return float64(stats().Entries) }),
	)
}

// Received counts a notification.
func (m *Metrics) Received() {
	if m != nil {
		m.received.Inc()
	}
}

// Malformed counts a notification that could not be normalized.
func (m *Metrics) Malformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

// Filtered counts a transaction rejected by check.
func (m *Metrics) Filtered(check string) {
	if m != nil {
		m.filtered.WithLabelValues(check).Inc()
	}
}

// Emitted counts a delivered transaction.
func (m *Metrics) Emitted() {
	if m != nil {
		m.emitted.Inc()
	}
}

// Error counts an error of the given kind.
func (m *Metrics) Error(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}

// Connected counts a successful connection.
func (m *Metrics) Connected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// Exhausted counts a reconnect exhaustion.
func (m *Metrics) Exhausted() {
	if m != nil {
		m.exhaustions.Inc()
	}
}

// State sets the connection state gauge.
func (m *Metrics) State(state string) {
	if m == nil {
		return
	}

	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}

		m.state.WithLabelValues(s).Set(v)
	}
}

// Subjects sets the tracked subjects gauge.
func (m *Metrics) Subjects(n int) {
	if m != nil {
		m.subjects.Set(float64(n))
	}
}

// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion metrics
	IngestRuns           *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	DocumentsProcessed   *prometheus.CounterVec
	RecordsRejected      *prometheus.CounterVec
	DateFallbacks        prometheus.Counter
	DuplicatesDropped    prometheus.Counter
	CachedTrades         prometheus.Gauge
	CacheEvents          *prometheus.CounterVec
	LastSuccessfulIngest prometheus.Gauge

	// Quote metrics
	QuoteLookups       *prometheus.CounterVec
	QuoteLatency       prometheus.Histogram
	ValuationFallbacks *prometheus.CounterVec

	// Engine metrics
	CyclesReconstructed *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wheel_tracker"
	}
	f := promauto.With(reg)

	return &Metrics{
		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by result",
		}, []string{"result"}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of uncached ingestion runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DocumentsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of export documents by outcome",
		}, []string{"outcome"}),
		RecordsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_rejected_total",
			Help:      "Total number of trade records skipped by validation kind",
		}, []string{"kind"}),
		DateFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "date_fallbacks_total",
			Help:      "Total number of unparseable dates replaced by the ingestion time",
		}),
		DuplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of duplicate trade records dropped",
		}),
		CachedTrades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cached_trades",
			Help:      "Number of trades in the most recently cached trade set",
		}),
		CacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cache_events_total",
			Help:      "Trade cache hits, misses and clears",
		}, []string{"event"}),
		LastSuccessfulIngest: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingest_timestamp",
			Help:      "Unix timestamp of last successful uncached ingestion",
		}),

		QuoteLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "lookups_total",
			Help:      "Total number of quote lookups by result",
		}, []string{"result"}),
		QuoteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "lookup_latency_seconds",
			Help:      "Quote lookup latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ValuationFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "valuation_fallbacks_total",
			Help:      "Positions valued at average cost instead of a quote, by reason",
		}, []string{"reason"}),

		CyclesReconstructed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycles",
			Name:      "reconstructed",
			Help:      "Number of wheel cycles in the last reconstruction by status",
		}, []string{"status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordIngest records an ingestion run. cached is true when the result came
// from the trade cache.
func (m *Metrics) RecordIngest(cached bool, seconds float64, trades int, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.IngestRuns.WithLabelValues("error").Inc()
	case cached:
		m.IngestRuns.WithLabelValues("cached").Inc()
		m.CacheEvents.WithLabelValues("hit").Inc()
	default:
		m.IngestRuns.WithLabelValues("success").Inc()
		m.CacheEvents.WithLabelValues("miss").Inc()
		m.IngestDuration.Observe(seconds)
		m.CachedTrades.Set(float64(trades))
		m.LastSuccessfulIngest.SetToCurrentTime()
	}
}

// RecordDocument records the outcome of one export document.
// outcome is one of parsed, skipped, read_error, parse_error.
func (m *Metrics) RecordDocument(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues(outcome).Inc()
}

// RecordRejected records one skipped trade record.
func (m *Metrics) RecordRejected(kind string) {
	if m == nil {
		return
	}
	m.RecordsRejected.WithLabelValues(kind).Inc()
}

// RecordDateFallbacks adds n date fallbacks.
func (m *Metrics) RecordDateFallbacks(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DateFallbacks.Add(float64(n))
}

// RecordDuplicates adds n dropped duplicates.
func (m *Metrics) RecordDuplicates(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DuplicatesDropped.Add(float64(n))
}

// RecordCacheClear records an explicit cache clear.
func (m *Metrics) RecordCacheClear() {
	if m == nil {
		return
	}
	m.CacheEvents.WithLabelValues("clear").Inc()
}

// RecordQuote records one quote lookup.
func (m *Metrics) RecordQuote(seconds float64, err error) {
	if m == nil {
		return
	}
	m.QuoteLatency.Observe(seconds)
	if err != nil {
		m.QuoteLookups.WithLabelValues("error").Inc()
		return
	}
	m.QuoteLookups.WithLabelValues("success").Inc()
}

// RecordValuationFallback records a position valued at average cost.
func (m *Metrics) RecordValuationFallback(reason string) {
	if m == nil {
		return
	}
	m.ValuationFallbacks.WithLabelValues(reason).Inc()
}

// RecordCycles sets the active/completed cycle gauges.
func (m *Metrics) RecordCycles(active, completed int) {
	if m == nil {
		return
	}
	m.CyclesReconstructed.WithLabelValues("active").Set(float64(active))
	m.CyclesReconstructed.WithLabelValues("completed").Set(float64(completed))
}

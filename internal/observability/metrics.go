// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	EventsTotal     *prometheus.CounterVec
	ReconnectsTotal *prometheus.CounterVec
	HighestSlotSeen prometheus.Gauge

	// Config metrics
	ReloadsTotal *prometheus.CounterVec

	// Pipeline metrics
	IntentsTotal      *prometheus.CounterVec
	DecodeErrorsTotal prometheus.Counter
	CacheHits         prometheus.Gauge
	CacheMisses       prometheus.Gauge
	CacheEvictions    prometheus.Gauge

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	ActiveExecutions  prometheus.Gauge

	// Health metrics
	LastEventTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "copytrader"
	}

	return &Metrics{
		// Stream metrics
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Total number of decoded events by kind",
		}, []string{"kind"}),
		ReconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of session rebuilds by reason",
		}, []string{"reason"}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "highest_slot_seen",
			Help:      "Highest block slot number seen",
		}),

		// Config metrics
		ReloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Total number of configuration reloads by result",
		}, []string{"result"}),

		// Pipeline metrics
		IntentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "intents_total",
			Help:      "Total number of trade intents by strategy decision",
		}, []string{"decision"}),
		DecodeErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "decode_errors_total",
			Help:      "Total number of events dropped on address decode failures",
		}),
		CacheHits: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "addr_cache",
			Name:      "hits",
			Help:      "Address cache hits since process start",
		}),
		CacheMisses: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "addr_cache",
			Name:      "misses",
			Help:      "Address cache misses since process start",
		}),
		CacheEvictions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "addr_cache",
			Name:      "evictions",
			Help:      "Address cache evictions since process start",
		}),

		// Execution metrics
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Total number of execution attempts by outcome",
		}, []string{"outcome"}),
		ExecutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Execution attempt duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ActiveExecutions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "active",
			Help:      "Number of execution attempts currently in flight",
		}),

		// Health metrics
		LastEventTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_timestamp",
			Help:      "Unix timestamp of the last decoded event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEvent increments the decoded event counter for a kind.
func RecordEvent(kind string) {
	DefaultMetrics.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordReconnect increments the session rebuild counter.
func RecordReconnect(reason string) {
	DefaultMetrics.ReconnectsTotal.WithLabelValues(reason).Inc()
}

// RecordReload increments the configuration reload counter.
func RecordReload(result string) {
	DefaultMetrics.ReloadsTotal.WithLabelValues(result).Inc()
}

// RecordIntent increments the strategy decision counter.
func RecordIntent(decision string) {
	DefaultMetrics.IntentsTotal.WithLabelValues(decision).Inc()
}

// RecordDecodeError increments the decode failure counter.
func RecordDecodeError() {
	DefaultMetrics.DecodeErrorsTotal.Inc()
}

// RecordExecution records a finished execution attempt.
func RecordExecution(outcome string, durationSeconds float64) {
	DefaultMetrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.ExecutionDuration.Observe(durationSeconds)
}

// ExecutionStarted marks an execution attempt as in flight.
func ExecutionStarted() {
	DefaultMetrics.ActiveExecutions.Inc()
}

// ExecutionFinished marks an execution attempt as settled.
func ExecutionFinished() {
	DefaultMetrics.ActiveExecutions.Dec()
}

// UpdateCacheStats refreshes the address cache gauges.
func UpdateCacheStats(hits, misses, evictions uint64) {
	DefaultMetrics.CacheHits.Set(float64(hits))
	DefaultMetrics.CacheMisses.Set(float64(misses))
	DefaultMetrics.CacheEvictions.Set(float64(evictions))
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot uint64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// UpdateLastEvent updates the last event timestamp gauge.
func UpdateLastEvent(unixSeconds int64) {
	DefaultMetrics.LastEventTimestamp.Set(float64(unixSeconds))
}

package fetchcore

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the fetch lifecycle,
// cache and coordination layers. It is safe for concurrent use, and all
// record methods are safe on a nil receiver so metrics stay optional.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal       *prometheus.CounterVec
	dedupHits          *prometheus.CounterVec
	timeoutsTotal      *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	saturationTotal    *prometheus.CounterVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge

	circuitBreakerState *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_requests_total",
				Help: "Total number of coordinated fetch requests",
			},
			[]string{"method", "resource", "outcome"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchcore_request_duration_seconds",
				Help:    "Duration of coordinated fetch requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "resource"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetchcore_requests_in_flight",
				Help: "Number of distinct request keys currently in flight",
			},
			[]string{"method"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "resource", "attempt"},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_deduplication_hits_total",
				Help: "Total number of callers joined to an in-flight request",
			},
			[]string{"method", "resource"},
		),
		timeoutsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_timeouts_total",
				Help: "Total number of operations that exceeded the deadline",
			},
			[]string{"method", "resource"},
		),
		cancellationsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_cancellations_total",
				Help: "Total number of explicitly cancelled requests",
			},
			[]string{"method", "resource"},
		),
		saturationTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_saturation_total",
				Help: "Total number of requests handled by a saturation policy",
			},
			[]string{"policy"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"namespace"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"namespace"},
		),
		cacheEvictions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_cache_evictions_total",
				Help: "Total number of capacity-driven evictions",
			},
			[]string{"namespace"},
		),
		cacheEntries: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchcore_cache_entries",
				Help: "Current number of entries in the cache",
			},
		),
		cacheBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchcore_cache_size_bytes",
				Help: "Current estimated total size of cached values in bytes",
			},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetchcore_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchcore_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "resource"},
		),
	}

	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, resource, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, resource, outcome).Inc()
	mc.requestDuration.WithLabelValues(method, resource).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, resource string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, resource, strconv.Itoa(attempt)).Inc()
}

// RecordDeduplicationHit increments the joined-caller counter.
func (mc *MetricsCollector) RecordDeduplicationHit(method, resource string) {
	if mc == nil {
		return
	}

	mc.dedupHits.WithLabelValues(method, resource).Inc()
}

// RecordTimeout increments the timeout counter.
func (mc *MetricsCollector) RecordTimeout(method, resource string) {
	if mc == nil {
		return
	}

	mc.timeoutsTotal.WithLabelValues(method, resource).Inc()
}

// RecordCancellation increments the cancellation counter.
func (mc *MetricsCollector) RecordCancellation(method, resource string) {
	if mc == nil {
		return
	}

	mc.cancellationsTotal.WithLabelValues(method, resource).Inc()
}

// RecordSaturation increments the saturation counter for a policy outcome.
func (mc *MetricsCollector) RecordSaturation(policy string) {
	if mc == nil {
		return
	}

	mc.saturationTotal.WithLabelValues(policy).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(namespace string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(namespace).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(namespace string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(namespace).Inc()
}

// RecordCacheEviction increments the eviction counter.
func (mc *MetricsCollector) RecordCacheEviction(namespace string) {
	if mc == nil {
		return
	}

	mc.cacheEvictions.WithLabelValues(namespace).Inc()
}

// RecordCacheSize sets the entry-count and size gauges.
func (mc *MetricsCollector) RecordCacheSize(entries int, sizeBytes int64) {
	if mc == nil {
		return
	}

	mc.cacheEntries.Set(float64(entries))
	mc.cacheBytes.Set(float64(sizeBytes))
}

// RecordCircuitBreakerState sets the gauge to the breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(name).Set(stateValue)
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, resource string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, resource).Inc()
}

// GetRegistry exposes the underlying prometheus registry, if the collector
// was built on one.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	return mc.registry
}

package resolve

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for resolution
// runs in production environments.
//
// Metrics exposed (all namespaced with "resolvent_"):
//
//  1. inflight_resolvers (gauge): resolver invocations currently executing
//     under the parallel runner.
//  2. pending_batch_requests (gauge): requests queued in batch groups
//     awaiting flush.
//  3. resolver_latency_ms (histogram): invocation duration, labeled by
//     run_id, resolver, status.
//  4. batch_size (histogram): flushed group sizes, labeled by resolver.
//  5. batch_flushes_total (counter): flushes by resolver and trigger
//     (idle, threshold, scan).
//  6. resolver_failures_total (counter): failed node executions by run_id
//     and resolver (propagated failures included).
//  7. retries_total (counter): retry attempts by run_id and resolver.
//
// Thread-safe: prometheus collectors handle concurrent updates.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := resolve.NewPrometheusMetrics(registry)
//	engine := resolve.New(emitter, resolve.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightResolvers prometheus.Gauge
	pendingBatch      prometheus.Gauge

	resolverLatency *prometheus.HistogramVec
	batchSize       *prometheus.HistogramVec

	batchFlushes *prometheus.CounterVec
	failures     *prometheus.CounterVec
	retries      *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all resolution metrics with
// the provided registry. Pass nil to use prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightResolvers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "resolvent",
		Name:      "inflight_resolvers",
		Help:      "Current number of resolver invocations executing concurrently",
	})

	pm.pendingBatch = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "resolvent",
		Name:      "pending_batch_requests",
		Help:      "Number of requests queued in batch groups awaiting flush",
	})

	pm.resolverLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "resolvent",
		Name:      "resolver_latency_ms",
		Help:      "Resolver invocation duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "resolver", "status"}) // status: success, error

	pm.batchSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "resolvent",
		Name:      "batch_size",
		Help:      "Number of coalesced requests per flushed batch group",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	}, []string{"resolver"})

	pm.batchFlushes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolvent",
		Name:      "batch_flushes_total",
		Help:      "Batch group flushes by trigger",
	}, []string{"resolver", "trigger"}) // trigger: idle, threshold, scan

	pm.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolvent",
		Name:      "resolver_failures_total",
		Help:      "Failed node executions, including propagated dependency failures",
	}, []string{"run_id", "resolver"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolvent",
		Name:      "retries_total",
		Help:      "Cumulative resolver retry attempts",
	}, []string{"run_id", "resolver"})

	return pm
}

// RecordResolverLatency records one invocation's duration.
// Status should be "success" or "error".
func (pm *PrometheusMetrics) RecordResolverLatency(runID, resolver string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.resolverLatency.WithLabelValues(runID, resolver, status).Observe(float64(latency.Milliseconds()))
}

// ObserveBatchFlush records one flushed group: its size and its trigger.
func (pm *PrometheusMetrics) ObserveBatchFlush(resolver string, size int, trigger string) {
	if !pm.isEnabled() {
		return
	}
	pm.batchSize.WithLabelValues(resolver).Observe(float64(size))
	pm.batchFlushes.WithLabelValues(resolver, trigger).Inc()
}

// UpdateInflightResolvers sets the current concurrent invocation count.
func (pm *PrometheusMetrics) UpdateInflightResolvers(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightResolvers.Set(float64(count))
}

// UpdatePendingBatchRequests sets the current queued batch request count.
func (pm *PrometheusMetrics) UpdatePendingBatchRequests(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.pendingBatch.Set(float64(count))
}

// IncrementFailures counts one failed node execution.
func (pm *PrometheusMetrics) IncrementFailures(runID, resolver string) {
	if !pm.isEnabled() {
		return
	}
	pm.failures.WithLabelValues(runID, resolver).Inc()
}

// IncrementRetries counts one retry attempt.
func (pm *PrometheusMetrics) IncrementRetries(runID, resolver string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(runID, resolver).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative and
// cannot be reset without re-registering.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightResolvers.Set(0)
	pm.pendingBatch.Set(0)
}

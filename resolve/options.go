package resolve

import (
	"time"

	"github.com/resolvent/resolvent-go/resolve/cache"
)

// Defaults applied when options are unset.
const (
	// DefaultBatchHoldDelay is the idle window before a batch group
	// auto-flushes when no threshold is configured.
	DefaultBatchHoldDelay = 10 * time.Millisecond

	// DefaultMaxConcurrent bounds concurrent direct invocations under the
	// parallel runner.
	DefaultMaxConcurrent = 8
)

// Options configures Engine execution behavior.
//
// Zero values are valid: the engine falls back to serial execution with
// time-only batch flushing at the default hold delay.
type Options struct {
	// Parallel selects the parallel runner for Process/ProcessAll.
	// ProcessAsync always runs parallel.
	Parallel bool

	// MaxConcurrent bounds concurrent direct resolver invocations in
	// parallel mode. If 0, DefaultMaxConcurrent is used.
	MaxConcurrent int

	// BatchHoldDelay is the idle window before a batch group auto-flushes.
	// Each submission to a group resets the window. If 0,
	// DefaultBatchHoldDelay is used.
	BatchHoldDelay time.Duration

	// BatchFlushThreshold forces an immediate flush once a group reaches
	// this many pending requests. If 0, flushing is time-only.
	BatchFlushThreshold int

	// DefaultResolverTimeout bounds invocations of resolvers without an
	// explicit Policy.Timeout. If 0, no timeout is enforced.
	DefaultResolverTimeout time.Duration

	// Metrics receives Prometheus metric updates. Optional.
	Metrics *PrometheusMetrics

	// Cache memoizes cacheable resolver calls per input snapshot. Optional.
	Cache cache.Cache
}

func defaultOptions() Options {
	return Options{
		MaxConcurrent:  DefaultMaxConcurrent,
		BatchHoldDelay: DefaultBatchHoldDelay,
	}
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := resolve.New(emitter,
//	    resolve.WithParallel(true),
//	    resolve.WithMaxConcurrent(16),
//	    resolve.WithBatchFlushThreshold(32),
//	)
type Option func(*Options)

// WithParallel selects the parallel runner instead of the serial runner.
func WithParallel(parallel bool) Option {
	return func(o *Options) { o.Parallel = parallel }
}

// WithMaxConcurrent sets the concurrent direct-invocation bound for the
// parallel runner. Values below 1 restore the default.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) {
		if n < 1 {
			n = DefaultMaxConcurrent
		}
		o.MaxConcurrent = n
	}
}

// WithBatchHoldDelay sets the idle window before a batch group
// auto-flushes. Each submission resets the window, so a steady stream of
// submissions keeps a group open until the threshold (if any) trips.
func WithBatchHoldDelay(d time.Duration) Option {
	return func(o *Options) {
		if d <= 0 {
			d = DefaultBatchHoldDelay
		}
		o.BatchHoldDelay = d
	}
}

// WithBatchFlushThreshold sets the group size that forces an immediate
// flush regardless of elapsed time. 0 disables count-based flushing.
func WithBatchFlushThreshold(n int) Option {
	return func(o *Options) {
		if n < 0 {
			n = 0
		}
		o.BatchFlushThreshold = n
	}
}

// WithDefaultResolverTimeout sets the timeout applied to resolvers without
// an explicit Policy.Timeout. 0 disables the default timeout.
func WithDefaultResolverTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultResolverTimeout = d }
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := resolve.NewPrometheusMetrics(registry)
//	engine := resolve.New(emitter, resolve.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithCache attaches a memoization backend for cacheable resolvers.
// Results are keyed by resolver name plus input snapshot hash.
func WithCache(c cache.Cache) Option {
	return func(o *Options) { o.Cache = c }
}

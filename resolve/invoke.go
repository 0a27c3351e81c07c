package resolve

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy configures the execution behavior of a single resolver's direct
// invocations. If not set, engine-wide defaults apply.
type Policy struct {
	// Timeout is the maximum execution time for one invocation.
	// If zero, Options.DefaultResolverTimeout is used.
	Timeout time.Duration

	// Retry specifies automatic retry behavior for transient failures of
	// synchronous resolvers. If nil, failures are not retried. Retries
	// never apply to batched group calls or to propagated failures.
	Retry *RetryPolicy
}

// RetryPolicy defines automatic retry configuration for transient resolver
// failures. Exponential backoff with jitter avoids thundering-herd retries
// against a struggling backend.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1 (no retries).
	MaxAttempts int

	// BaseDelay is the base for exponential backoff:
	// delay = min(BaseDelay * 2^attempt + jitter, MaxDelay).
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying.
	// If nil, no errors are retryable.
	Retryable func(error) bool
}

// backoffDelay computes the delay before retry attempt n (0-based).
func (p *RetryPolicy) backoffDelay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	// Up to 25% jitter.
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	d += jitter
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// resolverTimeout determines the timeout for a resolver by precedence:
// per-resolver Policy.Timeout, then the engine default, then none.
func resolverTimeout(r *Resolver, defaultTimeout time.Duration) time.Duration {
	if r.Policy != nil && r.Policy.Timeout > 0 {
		return r.Policy.Timeout
	}
	return defaultTimeout
}

// invokeDirect calls one non-batched resolver against an input snapshot and
// normalizes every outcome into an Awaitable:
//
//   - a synchronous return becomes a fulfilled or failed Awaitable
//   - an asynchronous resolver's own Awaitable is passed through
//   - a panic in user code becomes a failed Awaitable; the run survives
//
// The resolver is invoked exactly once per request per attempt; a retry
// policy may invoke the synchronous body again on retryable failures. When
// a cache backend is configured and the resolver is Cacheable, a hit
// suppresses the invocation entirely.
func (e *Engine) invokeDirect(ctx context.Context, runID string, r *Resolver, in Attrs) *Awaitable[Attrs] {
	if e.cache != nil && r.Cacheable {
		key, err := in.SnapshotKey()
		if err == nil {
			if out, ok, cerr := e.cache.Get(ctx, r.Name, key); cerr == nil && ok {
				return Fulfilled[Attrs](Attrs(out))
			}
			aw := e.invokeUncached(ctx, runID, r, in)
			// The result settles only after the store completes, so a waiter
			// observing success can rely on the entry being present.
			stored := NewAwaitable[Attrs]()
			aw.OnComplete(func(out Attrs, err error) {
				if err != nil {
					stored.Fail(err)
					return
				}
				// Best effort: a failed Put only costs a future cache miss.
				_ = e.cache.Put(ctx, r.Name, key, map[string]any(out))
				stored.Fulfill(out)
			})
			return stored
		}
	}
	return e.invokeUncached(ctx, runID, r, in)
}

func (e *Engine) invokeUncached(ctx context.Context, runID string, r *Resolver, in Attrs) *Awaitable[Attrs] {
	timeout := resolverTimeout(r, e.opts.DefaultResolverTimeout)
	started := time.Now()

	if r.AsyncFn != nil {
		ictx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			ictx, cancel = context.WithTimeout(ctx, timeout)
		}
		aw := func() (aw *Awaitable[Attrs]) {
			defer func() {
				if rec := recover(); rec != nil {
					aw = Failed[Attrs](&ResolveError{
						Resolver: r.Name,
						Cause:    fmt.Errorf("resolver panicked: %v", rec),
					})
				}
			}()
			return r.AsyncFn(ictx, in)
		}()
		if aw == nil {
			cancel()
			return Failed[Attrs](&ResolveError{
				Resolver: r.Name,
				Cause:    fmt.Errorf("async resolver returned nil awaitable"),
			})
		}
		out := NewAwaitable[Attrs]()
		aw.OnComplete(func(v Attrs, err error) {
			cancel()
			e.recordLatency(runID, r.Name, started, err)
			if err != nil {
				out.Fail(wrapResolveErr(r.Name, err))
				return
			}
			out.Fulfill(v)
		})
		return out
	}

	return Go(func() (Attrs, error) {
		var attempts = 1
		var retry *RetryPolicy
		if r.Policy != nil && r.Policy.Retry != nil {
			retry = r.Policy.Retry
			if retry.MaxAttempts > 1 {
				attempts = retry.MaxAttempts
			}
		}

		var lastErr error
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				if e.metrics != nil {
					e.metrics.IncrementRetries(runID, r.Name)
				}
				select {
				case <-time.After(retry.backoffDelay(attempt - 1)):
				case <-ctx.Done():
					return nil, wrapResolveErr(r.Name, ctx.Err())
				}
			}

			out, err := callSyncResolver(ctx, r, in, timeout)
			if err == nil {
				e.recordLatency(runID, r.Name, started, nil)
				return out, nil
			}
			lastErr = err
			if retry == nil || retry.Retryable == nil || !retry.Retryable(err) {
				break
			}
		}
		e.recordLatency(runID, r.Name, started, lastErr)
		return nil, wrapResolveErr(r.Name, lastErr)
	})
}

// recordLatency observes one invocation's wall time when metrics are on.
func (e *Engine) recordLatency(runID, resolver string, started time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordResolverLatency(runID, resolver, time.Since(started), status)
}

// callSyncResolver runs a synchronous resolver body once, converting panics
// to errors and enforcing the timeout deadline on the invocation context.
func callSyncResolver(ctx context.Context, r *Resolver, in Attrs, timeout time.Duration) (out Attrs, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("resolver panicked: %v", rec)
		}
	}()

	type result struct {
		out Attrs
		err error
	}
	// The body runs on its own goroutine so a deadline can preempt a
	// resolver that ignores ctx. The goroutine finishes in the background;
	// its late result is discarded.
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{nil, fmt.Errorf("resolver panicked: %v", rec)}
			}
		}()
		o, e := r.Fn(ctx, in)
		ch <- result{o, e}
	}()

	select {
	case res := <-ch:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wrapResolveErr wraps err in a ResolveError unless it already is one, or
// is a BatchError that must keep its identity for fatality checks.
func wrapResolveErr(resolver string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *ResolveError, *BatchError:
		return err
	}
	return &ResolveError{Resolver: resolver, Cause: err}
}

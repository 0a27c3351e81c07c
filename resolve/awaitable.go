package resolve

import (
	"context"
	"sync"
)

// AwaitableState is the lifecycle state of an Awaitable.
type AwaitableState int32

const (
	// StatePending means the value is not yet available.
	StatePending AwaitableState = iota

	// StateFulfilled means the value settled successfully.
	StateFulfilled

	// StateFailed means the value settled with an error.
	StateFailed
)

// Awaitable is a one-shot container for a value that may not be ready yet.
//
// It unifies the asynchronous shapes a resolver may produce (a goroutine
// returning through a callback, a channel pair, or an immediately available
// value) behind one type with promise semantics:
//
//   - the state machine is pending → fulfilled | failed, terminal and
//     one-shot: the first Fulfill or Fail wins, later calls are no-ops
//   - continuations registered with OnComplete fire exactly once, in
//     registration order, after settlement; registering on an already
//     settled Awaitable fires the continuation immediately
//   - Wait blocks until settlement or context cancellation
//
// All methods are safe for concurrent use.
type Awaitable[T any] struct {
	mu    sync.Mutex
	state AwaitableState
	value T
	err   error
	conts []func(T, error)
	done  chan struct{}
}

// NewAwaitable creates a pending Awaitable.
func NewAwaitable[T any]() *Awaitable[T] {
	return &Awaitable[T]{done: make(chan struct{})}
}

// Fulfilled returns an Awaitable already settled with the given value.
func Fulfilled[T any](v T) *Awaitable[T] {
	a := NewAwaitable[T]()
	a.Fulfill(v)
	return a
}

// Failed returns an Awaitable already settled with the given error.
func Failed[T any](err error) *Awaitable[T] {
	a := NewAwaitable[T]()
	a.Fail(err)
	return a
}

// Go runs fn on a new goroutine and returns an Awaitable that settles with
// its result. This is the adapter for callback-style asynchronous work.
func Go[T any](fn func() (T, error)) *Awaitable[T] {
	a := NewAwaitable[T]()
	go func() {
		v, err := fn()
		if err != nil {
			a.Fail(err)
			return
		}
		a.Fulfill(v)
	}()
	return a
}

// FromChannels bridges a channel pair into an Awaitable: the first value
// received on vals fulfills, the first error received on errs fails.
// A closed vals channel with no value fails with ctx's error once ctx is
// done, or stays pending until then. This is the adapter for channel-style
// asynchronous work.
func FromChannels[T any](ctx context.Context, vals <-chan T, errs <-chan error) *Awaitable[T] {
	a := NewAwaitable[T]()
	go func() {
		select {
		case v, ok := <-vals:
			if !ok {
				<-ctx.Done()
				a.Fail(ctx.Err())
				return
			}
			a.Fulfill(v)
		case err := <-errs:
			a.Fail(err)
		case <-ctx.Done():
			a.Fail(ctx.Err())
		}
	}()
	return a
}

// Fulfill transitions pending → fulfilled and fires registered
// continuations in order. Returns false if the Awaitable was already
// settled, in which case nothing happens.
func (a *Awaitable[T]) Fulfill(v T) bool {
	return a.settle(StateFulfilled, v, nil)
}

// Fail transitions pending → failed and fires registered continuations in
// order. Returns false if the Awaitable was already settled, in which case
// nothing happens.
func (a *Awaitable[T]) Fail(err error) bool {
	var zero T
	return a.settle(StateFailed, zero, err)
}

func (a *Awaitable[T]) settle(s AwaitableState, v T, err error) bool {
	a.mu.Lock()
	if a.state != StatePending {
		a.mu.Unlock()
		return false
	}
	a.state = s
	a.value = v
	a.err = err
	conts := a.conts
	a.conts = nil
	close(a.done)
	a.mu.Unlock()

	// Continuations run outside the lock so they may register further
	// continuations or inspect state without deadlocking.
	for _, fn := range conts {
		fn(v, err)
	}
	return true
}

// OnComplete registers a continuation to run when the Awaitable settles.
// If it has already settled, fn runs immediately on the calling goroutine.
// Continuations fire exactly once each, in registration order.
func (a *Awaitable[T]) OnComplete(fn func(T, error)) {
	a.mu.Lock()
	if a.state == StatePending {
		a.conts = append(a.conts, fn)
		a.mu.Unlock()
		return
	}
	v, err := a.value, a.err
	a.mu.Unlock()
	fn(v, err)
}

// State returns the current lifecycle state.
func (a *Awaitable[T]) State() AwaitableState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done returns a channel closed when the Awaitable settles.
func (a *Awaitable[T]) Done() <-chan struct{} { return a.done }

// Wait blocks until the Awaitable settles or ctx is done.
//
// On settlement it returns the value or settlement error. On cancellation
// it returns ctx.Err(); the Awaitable itself is left untouched and may
// still settle later.
func (a *Awaitable[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.value, a.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

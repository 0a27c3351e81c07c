package resolve

import (
	"context"
	"sync"
	"time"
)

// Flush triggers, recorded on batch events and metrics.
const (
	flushTriggerIdle      = "idle"
	flushTriggerThreshold = "threshold"
	flushTriggerScan      = "scan"
)

// batchRequest is one pending single-entity call to a batchable resolver:
// the exact input snapshot plus the result slot the requester suspends on.
type batchRequest struct {
	in     Attrs
	result *Awaitable[Attrs]
}

// batchGroup holds the ordered pending requests for one resolver. Created
// on the first submission with no active group, destroyed on flush.
type batchGroup struct {
	resolver *Resolver
	reqs     []*batchRequest
	timer    *time.Timer
}

// batchCoordinator coalesces pending single-entity calls to the same
// batchable resolver into one grouped call.
//
// A group flushes on whichever trigger fires first:
//
//   - the idle timer elapses with no new submission; every submission
//     resets the timer, so a steady trickle keeps extending the window
//   - the group reaches the configured count threshold, if one is set
//   - the serial runner forces a flush at a scan boundary
//
// Submission order is defined by acquisition order of the coordinator's
// mutex: the flushed input list and the positional redistribution of
// outputs both use that order, which keeps the 1:1 contract intact even
// when branches submit concurrently.
//
// Group state is owned exclusively by the coordinator and mutated only
// under its lock.
type batchCoordinator struct {
	mu        sync.Mutex
	groups    map[string]*batchGroup
	holdDelay time.Duration
	threshold int
	cancelled bool

	// ctx is the run's context, passed to grouped calls.
	ctx context.Context

	// call executes one grouped resolver call.
	call func(ctx context.Context, r *Resolver, in []Attrs) ([]Attrs, error)

	// onFlush observes each flush for metrics/events. May be nil.
	onFlush func(resolver string, size int, trigger string)

	// onPending observes the queued request count after each change.
	// May be nil.
	onPending func(n int)

	// inflight tracks dispatched flush goroutines so a run can wait for
	// grouped calls to settle before returning.
	inflight sync.WaitGroup
}

func newBatchCoordinator(ctx context.Context, holdDelay time.Duration, threshold int,
	call func(ctx context.Context, r *Resolver, in []Attrs) ([]Attrs, error),
	onFlush func(resolver string, size int, trigger string),
) *batchCoordinator {
	if holdDelay <= 0 {
		holdDelay = DefaultBatchHoldDelay
	}
	return &batchCoordinator{
		groups:    make(map[string]*batchGroup),
		holdDelay: holdDelay,
		threshold: threshold,
		ctx:       ctx,
		call:      call,
		onFlush:   onFlush,
	}
}

// submit queues one request for a batchable resolver and returns the
// Awaitable its result will arrive on.
func (bc *batchCoordinator) submit(r *Resolver, in Attrs) *Awaitable[Attrs] {
	req := &batchRequest{in: in, result: NewAwaitable[Attrs]()}

	bc.mu.Lock()
	if bc.cancelled {
		bc.mu.Unlock()
		req.result.Fail(context.Canceled)
		return req.result
	}

	g, ok := bc.groups[r.Name]
	if !ok {
		g = &batchGroup{resolver: r}
		bc.groups[r.Name] = g
		g.timer = time.AfterFunc(bc.holdDelay, func() { bc.idleFlush(r.Name, g) })
	} else {
		g.timer.Reset(bc.holdDelay)
	}
	g.reqs = append(g.reqs, req)

	if bc.threshold > 0 && len(g.reqs) >= bc.threshold {
		bc.flushLocked(g, flushTriggerThreshold)
	}
	bc.notifyPendingLocked()
	bc.mu.Unlock()

	return req.result
}

// idleFlush fires from a group's idle timer. The group may already have
// been flushed by a threshold or scan trigger and replaced by a newer one;
// only the exact group the timer belongs to is flushed.
func (bc *batchCoordinator) idleFlush(name string, g *batchGroup) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.cancelled || bc.groups[name] != g {
		return
	}
	bc.flushLocked(g, flushTriggerIdle)
	bc.notifyPendingLocked()
}

// flushAll forces every active group to flush. The serial runner calls this
// at scan boundaries after visiting every currently satisfiable node, which
// maximizes group size.
func (bc *batchCoordinator) flushAll() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.cancelled {
		return
	}
	for _, g := range bc.groups {
		bc.flushLocked(g, flushTriggerScan)
	}
	bc.notifyPendingLocked()
}

// flushLocked detaches the group and dispatches its grouped call on a new
// goroutine. Caller holds bc.mu.
func (bc *batchCoordinator) flushLocked(g *batchGroup, trigger string) {
	g.timer.Stop()
	delete(bc.groups, g.resolver.Name)

	reqs := g.reqs
	if len(reqs) == 0 {
		return
	}
	if bc.onFlush != nil {
		bc.onFlush(g.resolver.Name, len(reqs), trigger)
	}

	inputs := make([]Attrs, len(reqs))
	for i, req := range reqs {
		inputs[i] = req.in
	}

	bc.inflight.Add(1)
	go func() {
		defer bc.inflight.Done()
		outputs, err := bc.call(bc.ctx, g.resolver, inputs)
		if err != nil {
			// No partial-success decomposition: every request in the
			// group is rejected with the same failure.
			be := &BatchError{Resolver: g.resolver.Name, Size: len(reqs), Cause: err}
			for _, req := range reqs {
				req.result.Fail(be)
			}
			return
		}
		if len(outputs) != len(inputs) {
			be := &BatchError{
				Resolver: g.resolver.Name,
				Size:     len(reqs),
				Fatal:    true,
				Cause:    ErrBatchLengthMismatch,
			}
			for _, req := range reqs {
				req.result.Fail(be)
			}
			return
		}
		for i, req := range reqs {
			req.result.Fulfill(outputs[i])
		}
	}()
}

// cancel stops every pending timer without firing its flush and rejects all
// pending requests so their waiters unblock. In-flight grouped calls are
// left to settle on their own; the runner discards their results.
func (bc *batchCoordinator) cancel() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.cancelled {
		return
	}
	bc.cancelled = true
	for name, g := range bc.groups {
		g.timer.Stop()
		delete(bc.groups, name)
		for _, req := range g.reqs {
			req.result.Fail(context.Canceled)
		}
	}
	bc.notifyPendingLocked()
}

// wait blocks until all dispatched grouped calls have settled.
func (bc *batchCoordinator) wait() {
	bc.inflight.Wait()
}

// pending returns the total number of queued requests across all groups.
func (bc *batchCoordinator) pending() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.pendingLocked()
}

func (bc *batchCoordinator) pendingLocked() int {
	n := 0
	for _, g := range bc.groups {
		n += len(g.reqs)
	}
	return n
}

// notifyPendingLocked pushes the queued count to the observer, if any.
// Caller holds bc.mu.
func (bc *batchCoordinator) notifyPendingLocked() {
	if bc.onPending != nil {
		bc.onPending(bc.pendingLocked())
	}
}

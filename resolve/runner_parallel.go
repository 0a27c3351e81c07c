package resolve

import "context"

// completion carries one node's settled result back to the parallel
// runner's scheduler loop.
type completion struct {
	run  *entityRun
	node *PlanNode
	out  Attrs
	err  error
}

// runParallel executes the plan concurrently across entities and branches.
//
// Every node that becomes ready is dispatched as soon as it becomes ready;
// direct invocations are bounded by MaxConcurrent, batch submissions park
// in the coordinator without holding a slot. Completions funnel back to
// this single scheduler loop, which is the only goroutine that mutates
// entityRun state. Merges into a shared entity context are therefore
// serialized even though resolver calls run concurrently.
//
// Batch groups flush purely on the time/count window; there is no scan
// boundary when work interleaves across entities.
//
// Cancellation stops dispatching, clears all outstanding batch timers, and
// drains in-flight completions without merging their results.
func (e *Engine) runParallel(ctx context.Context, runID string, plan *Plan, runs []*entityRun) error {
	bc := newBatchCoordinator(ctx, e.opts.BatchHoldDelay, e.opts.BatchFlushThreshold,
		e.newBatchCall(), e.observeFlush(runID))
	if e.metrics != nil {
		bc.onPending = e.metrics.UpdatePendingBatchRequests
	}
	defer bc.cancel()

	maxConcurrent := e.opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	sem := make(chan struct{}, maxConcurrent)

	// Buffered to total plan size so completion sends never block, even
	// after the loop stops receiving on cancellation.
	comp := make(chan completion, len(runs)*plan.Len())
	outstanding := 0
	inflight := 0

	dispatch := func(run *entityRun, node *PlanNode) {
		run.status[node.Resolver] = nodeRunning
		outstanding++
		inflight++
		if e.metrics != nil {
			e.metrics.UpdateInflightResolvers(inflight)
		}
		go func() {
			aw := e.startParallelNode(ctx, runID, bc, sem, run, node)
			out, err := aw.Wait(ctx)
			comp <- completion{run: run, node: node, out: out, err: err}
		}()
	}

	// advance starts everything startable for one entity: ready nodes are
	// dispatched, nodes with a failed dependency are propagated as failed.
	// Propagation can unlock further propagation, so loop to fixpoint.
	var advance func(run *entityRun)
	advance = func(run *entityRun) {
		for {
			progressed := false
			for _, node := range plan.Nodes() {
				if run.status[node.Resolver] != nodeNotStarted {
					continue
				}
				if dep, depErr := run.failedDep(node); dep != "" {
					err := &ResolveError{Resolver: node.Resolver, Propagated: true, Cause: depErr}
					run.fail(node, err)
					e.emitNode(runID, run.index, node.Resolver, "node_failed", err)
					progressed = true
					continue
				}
				if run.ready(node) {
					dispatch(run, node)
					progressed = true
				}
			}
			if !progressed {
				return
			}
		}
	}

	for _, run := range runs {
		advance(run)
	}

	var fatal error
	for outstanding > 0 {
		select {
		case <-ctx.Done():
			bc.cancel()
			return ctx.Err()
		case c := <-comp:
			outstanding--
			inflight--
			if e.metrics != nil {
				e.metrics.UpdateInflightResolvers(inflight)
			}
			if fatal != nil {
				// Draining after a fatal error: results are discarded.
				continue
			}
			if c.err != nil {
				if ctx.Err() != nil {
					bc.cancel()
					return ctx.Err()
				}
				if fatalBatch(c.err) {
					fatal = c.err
					bc.cancel()
					continue
				}
				c.run.fail(c.node, c.err)
				e.emitNode(runID, c.run.index, c.node.Resolver, "node_failed", c.err)
			} else {
				c.run.complete(c.node, c.out)
				e.emitNode(runID, c.run.index, c.node.Resolver, "node_completed", nil)
			}
			advance(c.run)
		}
	}

	if fatal != nil {
		return fatal
	}
	return checkExhausted(plan, runs)
}

// startParallelNode issues one node's invocation from a worker goroutine.
// Direct invocations hold a semaphore slot for the duration of the call;
// batch submissions do not, since the grouped call is bounded by the
// coordinator (one flush goroutine per group).
func (e *Engine) startParallelNode(ctx context.Context, runID string, bc *batchCoordinator, sem chan struct{}, run *entityRun, node *PlanNode) *Awaitable[Attrs] {
	in, ok := run.ectx.snapshotInputs(node.Inputs)
	if !ok {
		return Failed[Attrs](&ResolveError{
			Resolver: node.Resolver,
			Cause:    errMissingInput,
		})
	}

	r, exists := e.resolver(node.Resolver)
	if !exists {
		return Failed[Attrs](&ResolveError{
			Resolver: node.Resolver,
			Cause:    errUnknownResolver,
		})
	}

	if node.Batchable && r.Batchable {
		return bc.submit(r, in)
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return Failed[Attrs](ctx.Err())
	}
	aw := e.invokeDirect(ctx, runID, r, in)
	out := NewAwaitable[Attrs]()
	aw.OnComplete(func(v Attrs, err error) {
		<-sem
		if err != nil {
			out.Fail(err)
			return
		}
		out.Fulfill(v)
	})
	return out
}

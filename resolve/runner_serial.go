package resolve

import (
	"context"
	"fmt"
)

// pendingNode is a dispatched invocation the serial runner has not yet
// collected: the node, its entity, and the Awaitable to suspend on.
type pendingNode struct {
	run  *entityRun
	node *PlanNode
	aw   *Awaitable[Attrs]
}

// runSerial executes the plan for all entities in one thread of control.
//
// Each pass scans every entity for ready nodes and issues their
// invocations. Batch submissions accumulate during the scan; only at the
// scan boundary, after every currently satisfiable node has been visited,
// are batch groups force-flushed, which maximizes group size. The runner
// then suspends on each pending Awaitable, merges results, and scans again.
//
// The pass loop terminates when a scan starts nothing and nothing is
// pending: either every node has settled (Done) or the remaining unstarted
// nodes form a cycle (fatal).
func (e *Engine) runSerial(ctx context.Context, runID string, plan *Plan, runs []*entityRun) error {
	bc := newBatchCoordinator(ctx, e.opts.BatchHoldDelay, e.opts.BatchFlushThreshold,
		e.newBatchCall(), e.observeFlush(runID))
	if e.metrics != nil {
		bc.onPending = e.metrics.UpdatePendingBatchRequests
	}
	defer bc.cancel()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var pendings []pendingNode
		progressed := false

		// Scan pass: visit every entity's ready nodes.
		for _, run := range runs {
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
				if !run.ready(node) {
					continue
				}

				aw := e.startNode(ctx, runID, bc, run, node)
				pendings = append(pendings, pendingNode{run: run, node: node, aw: aw})
				progressed = true
			}
		}

		if len(pendings) == 0 {
			if progressed {
				continue
			}
			return checkExhausted(plan, runs)
		}

		// Scan boundary: force every accumulated group out the door, then
		// suspend on each pending result in dispatch order.
		bc.flushAll()
		for _, p := range pendings {
			out, err := p.aw.Wait(ctx)
			if err != nil {
				if ctx.Err() != nil {
					bc.cancel()
					return ctx.Err()
				}
				if fatalBatch(err) {
					bc.cancel()
					return err
				}
				p.run.fail(p.node, err)
				e.emitNode(runID, p.run.index, p.node.Resolver, "node_failed", err)
				continue
			}
			p.run.complete(p.node, out)
			e.emitNode(runID, p.run.index, p.node.Resolver, "node_completed", nil)
		}
	}
}

// startNode snapshots a node's inputs and issues its invocation, through
// the batch coordinator when the node is batchable.
func (e *Engine) startNode(ctx context.Context, runID string, bc *batchCoordinator, run *entityRun, node *PlanNode) *Awaitable[Attrs] {
	run.status[node.Resolver] = nodeRunning

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
	return e.invokeDirect(ctx, runID, r, in)
}

// checkExhausted decides between Done and a traversal-detected cycle once
// no node is ready and nothing is pending.
func checkExhausted(plan *Plan, runs []*entityRun) error {
	for _, run := range runs {
		if rest := run.unstarted(plan); len(rest) > 0 {
			// Unstartable nodes with no failed dependency can only be
			// waiting on each other.
			return fmt.Errorf("node %s never became ready: %w", rest[0].Resolver, ErrPlanCycle)
		}
	}
	return nil
}

package resolve

import "context"

// nodeStatus tracks one plan node's progress for one entity.
type nodeStatus int

const (
	nodeNotStarted nodeStatus = iota
	nodeRunning
	nodeCompleted
	nodeFailed
)

// entityRun is the per-entity execution state: the entity's context plus
// per-node progress. Runners own entityRuns exclusively; the parallel
// runner mutates them only from its scheduler loop.
type entityRun struct {
	index   int
	ectx    *Context
	status  map[string]nodeStatus
	nodeErr map[string]error
}

func newEntityRun(index int, seed Attrs) (*entityRun, error) {
	ectx, err := NewContext(seed)
	if err != nil {
		return nil, err
	}
	return &entityRun{
		index:   index,
		ectx:    ectx,
		status:  make(map[string]nodeStatus),
		nodeErr: make(map[string]error),
	}, nil
}

// ready reports whether every dependency has completed for this entity.
func (er *entityRun) ready(n *PlanNode) bool {
	for _, dep := range n.DependsOn {
		if er.status[dep] != nodeCompleted {
			return false
		}
	}
	return true
}

// failedDep returns the error of the first failed dependency, if any.
func (er *entityRun) failedDep(n *PlanNode) (string, error) {
	for _, dep := range n.DependsOn {
		if er.status[dep] == nodeFailed {
			return dep, er.nodeErr[dep]
		}
	}
	return "", nil
}

// complete marks a node finished and merges its output.
func (er *entityRun) complete(n *PlanNode, out Attrs) {
	er.ectx.Merge(out)
	er.status[n.Resolver] = nodeCompleted
}

// fail marks a node failed and records failure markers for its outputs.
func (er *entityRun) fail(n *PlanNode, err error) {
	er.status[n.Resolver] = nodeFailed
	er.nodeErr[n.Resolver] = err
	er.ectx.MarkFailed(n.Outputs, err)
}

// unstarted returns the nodes not yet started for this entity.
func (er *entityRun) unstarted(plan *Plan) []*PlanNode {
	var out []*PlanNode
	for _, n := range plan.Nodes() {
		if er.status[n.Resolver] == nodeNotStarted {
			out = append(out, n)
		}
	}
	return out
}

// newBatchCall builds the grouped-call executor handed to the batch
// coordinator: one invocation of the batch body per flushed group, with the
// resolver's timeout applied and panics converted to errors.
func (e *Engine) newBatchCall() func(ctx context.Context, r *Resolver, in []Attrs) ([]Attrs, error) {
	return func(ctx context.Context, r *Resolver, in []Attrs) (out []Attrs, err error) {
		if timeout := resolverTimeout(r, e.opts.DefaultResolverTimeout); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		defer func() {
			if rec := recover(); rec != nil {
				out = nil
				err = &EngineError{
					Message: "batched resolver " + r.Name + " panicked",
					Code:    "RESOLVER_PANIC",
				}
			}
		}()
		return r.BatchFn(ctx, in)
	}
}

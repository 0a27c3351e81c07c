package resolve

import (
	"context"
	"sync"

	"github.com/resolvent/resolvent-go/resolve/cache"
	"github.com/resolvent/resolvent-go/resolve/emit"
)

// Engine is the process façade binding a resolver registry, a runner mode,
// and the ambient stack (emitter, metrics, cache).
//
// The Engine itself performs no I/O: resolvers are opaque user functions,
// and plans arrive pre-computed from an external planner. One Engine may
// serve many concurrent Process calls; each call gets its own batch
// coordinator and entity contexts.
//
// Example:
//
//	engine := resolve.New(emit.NewLogEmitter(os.Stdout, false),
//	    resolve.WithBatchHoldDelay(10*time.Millisecond),
//	)
//	engine.Register(userByID)
//	engine.Register(ageByName)
//
//	plan, _ := resolve.NewPlan(
//	    &resolve.PlanNode{Resolver: "user-by-id", Inputs: []string{"id"}, Outputs: []string{"name"}},
//	    &resolve.PlanNode{Resolver: "age-by-name", Inputs: []string{"name"},
//	        Outputs: []string{"age"}, DependsOn: []string{"user-by-id"}, Batchable: true},
//	)
//
//	ectx, err := engine.Process(ctx, "run-001", plan, resolve.Attrs{"id": 7})
type Engine struct {
	mu        sync.RWMutex
	resolvers map[string]*Resolver

	emitter emit.Emitter
	metrics *PrometheusMetrics
	cache   cache.Cache
	opts    Options
}

// New creates an Engine. The emitter may be nil (events are skipped);
// metrics and cache are attached via WithMetrics and WithCache.
func New(emitter emit.Emitter, options ...Option) *Engine {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	return &Engine{
		resolvers: make(map[string]*Resolver),
		emitter:   emitter,
		metrics:   opts.Metrics,
		cache:     opts.Cache,
		opts:      opts,
	}
}

// Register adds a resolver to the engine's registry.
//
// Returns an error if the declaration is inconsistent or the name is
// already taken.
func (e *Engine) Register(r *Resolver) error {
	if err := r.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.resolvers[r.Name]; exists {
		return &EngineError{
			Message: "duplicate resolver: " + r.Name,
			Code:    "DUPLICATE_RESOLVER",
		}
	}
	e.resolvers[r.Name] = r
	return nil
}

// resolver looks up a registered resolver by name.
func (e *Engine) resolver(name string) (*Resolver, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.resolvers[name]
	return r, ok
}

// Process resolves one entity against the plan and returns its final
// context.
//
// Per-attribute resolver failures are recorded as failure markers on the
// returned context and do not produce an error. Only fatal engine errors
// (a malformed plan, a traversal-detected cycle, a batch output length
// mismatch, or cancellation) return a non-nil error; the partially
// resolved context is still returned for diagnostics.
func (e *Engine) Process(ctx context.Context, runID string, plan *Plan, seed Attrs) (*Context, error) {
	ectxs, err := e.ProcessAll(ctx, runID, plan, []Attrs{seed})
	if len(ectxs) == 1 {
		return ectxs[0], err
	}
	return nil, err
}

// ProcessAll resolves many entities against one shared plan instance.
//
// All entities share one batch coordinator, so pending calls to a
// batchable resolver coalesce across entities; this is where grouped
// resolution pays off. Contexts are returned in seed order.
func (e *Engine) ProcessAll(ctx context.Context, runID string, plan *Plan, seeds []Attrs) ([]*Context, error) {
	if plan == nil {
		return nil, &EngineError{Message: "plan is required", Code: "MISSING_PLAN"}
	}
	if err := e.checkPlanResolvers(plan); err != nil {
		return nil, err
	}

	runs := make([]*entityRun, len(seeds))
	ectxs := make([]*Context, len(seeds))
	for i, seed := range seeds {
		run, err := newEntityRun(i, seed)
		if err != nil {
			return nil, &EngineError{Message: "invalid seed: " + err.Error(), Code: "INVALID_SEED"}
		}
		runs[i] = run
		ectxs[i] = run.ectx
	}

	e.emitRun(runID, "run_start", map[string]any{
		"entities": len(seeds),
		"nodes":    plan.Len(),
		"parallel": e.opts.Parallel,
	})

	var err error
	if e.opts.Parallel {
		err = e.runParallel(ctx, runID, plan, runs)
	} else {
		err = e.runSerial(ctx, runID, plan, runs)
	}

	if err != nil {
		e.emitRun(runID, "run_failed", map[string]any{"error": err.Error()})
		// Already-merged attributes remain readable for diagnostics.
		return ectxs, err
	}
	e.emitRun(runID, "run_completed", nil)
	return ectxs, nil
}

// ProcessAsync resolves entities on a background goroutine and returns an
// Awaitable settling with the final contexts. The parallel runner is used
// regardless of the Parallel option.
func (e *Engine) ProcessAsync(ctx context.Context, runID string, plan *Plan, seeds []Attrs) *Awaitable[[]*Context] {
	if plan == nil {
		return Failed[[]*Context](&EngineError{Message: "plan is required", Code: "MISSING_PLAN"})
	}
	if err := e.checkPlanResolvers(plan); err != nil {
		return Failed[[]*Context](err)
	}

	return Go(func() ([]*Context, error) {
		runs := make([]*entityRun, len(seeds))
		ectxs := make([]*Context, len(seeds))
		for i, seed := range seeds {
			run, err := newEntityRun(i, seed)
			if err != nil {
				return nil, &EngineError{Message: "invalid seed: " + err.Error(), Code: "INVALID_SEED"}
			}
			runs[i] = run
			ectxs[i] = run.ectx
		}

		e.emitRun(runID, "run_start", map[string]any{
			"entities": len(seeds),
			"nodes":    plan.Len(),
			"parallel": true,
		})
		if err := e.runParallel(ctx, runID, plan, runs); err != nil {
			e.emitRun(runID, "run_failed", map[string]any{"error": err.Error()})
			return nil, err
		}
		e.emitRun(runID, "run_completed", nil)
		return ectxs, nil
	})
}

// checkPlanResolvers verifies every plan node names a registered resolver
// and that batchability flags agree with the registration.
func (e *Engine) checkPlanResolvers(plan *Plan) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, n := range plan.Nodes() {
		r, ok := e.resolvers[n.Resolver]
		if !ok {
			return &EngineError{
				Message: "plan references unregistered resolver: " + n.Resolver,
				Code:    "UNKNOWN_RESOLVER",
			}
		}
		if n.Batchable && !r.Batchable {
			return &EngineError{
				Message: "plan marks " + n.Resolver + " batchable but the resolver is not",
				Code:    "MALFORMED_PLAN",
			}
		}
	}
	return nil
}

// observeFlush builds the coordinator's flush observer, feeding metrics
// and the event stream.
func (e *Engine) observeFlush(runID string) func(resolver string, size int, trigger string) {
	if e.emitter == nil && e.metrics == nil {
		return nil
	}
	return func(resolver string, size int, trigger string) {
		if e.metrics != nil {
			e.metrics.ObserveBatchFlush(resolver, size, trigger)
		}
		if e.emitter != nil {
			e.emitter.Emit(emit.Event{
				RunID:    runID,
				Resolver: resolver,
				Msg:      "batch_flush",
				Meta:     map[string]any{"size": size, "trigger": trigger},
			})
		}
	}
}

func (e *Engine) emitRun(runID, msg string, meta map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{RunID: runID, Entity: -1, Msg: msg, Meta: meta})
}

func (e *Engine) emitNode(runID string, entity int, resolver, msg string, err error) {
	if e.metrics != nil && msg == "node_failed" {
		e.metrics.IncrementFailures(runID, resolver)
	}
	if e.emitter == nil {
		return
	}
	var meta map[string]any
	if err != nil {
		meta = map[string]any{"error": err.Error()}
	}
	e.emitter.Emit(emit.Event{
		RunID:    runID,
		Entity:   entity,
		Resolver: resolver,
		Msg:      msg,
		Meta:     meta,
	})
}

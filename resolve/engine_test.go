package resolve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/resolvent/resolvent-go/resolve/emit"
)

func TestEngineRegister(t *testing.T) {
	e := New(nil)

	t.Run("valid resolver", func(t *testing.T) {
		err := e.Register(&Resolver{
			Name: "ok",
			Fn:   func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{}, nil },
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		err := e.Register(&Resolver{
			Name: "ok",
			Fn:   func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{}, nil },
		})
		assertEngineError(t, err, "DUPLICATE_RESOLVER")
	})

	t.Run("no body", func(t *testing.T) {
		err := e.Register(&Resolver{Name: "empty"})
		assertEngineError(t, err, "INVALID_RESOLVER")
	})

	t.Run("two bodies", func(t *testing.T) {
		err := e.Register(&Resolver{
			Name:    "double-body",
			Fn:      func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{}, nil },
			AsyncFn: func(ctx context.Context, in Attrs) *Awaitable[Attrs] { return Fulfilled(Attrs{}) },
		})
		assertEngineError(t, err, "INVALID_RESOLVER")
	})

	t.Run("batchable without BatchFn", func(t *testing.T) {
		err := e.Register(&Resolver{
			Name:      "bad-batch",
			Batchable: true,
			Fn:        func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{}, nil },
		})
		assertEngineError(t, err, "INVALID_RESOLVER")
	})

	t.Run("BatchFn without batchable", func(t *testing.T) {
		err := e.Register(&Resolver{
			Name:    "bad-batch-2",
			BatchFn: func(ctx context.Context, in []Attrs) ([]Attrs, error) { return nil, nil },
		})
		assertEngineError(t, err, "INVALID_RESOLVER")
	})
}

func TestEngineProcessValidation(t *testing.T) {
	e := New(nil)

	t.Run("nil plan", func(t *testing.T) {
		_, err := e.Process(context.Background(), "run-1", nil, nil)
		assertEngineError(t, err, "MISSING_PLAN")
	})

	t.Run("unregistered resolver", func(t *testing.T) {
		plan, _ := NewPlan(&PlanNode{Resolver: "ghost"})
		_, err := e.Process(context.Background(), "run-1", plan, nil)
		assertEngineError(t, err, "UNKNOWN_RESOLVER")
	})

	t.Run("batchable mismatch", func(t *testing.T) {
		if err := e.Register(&Resolver{
			Name: "plain",
			Fn:   func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{}, nil },
		}); err != nil {
			t.Fatal(err)
		}
		plan, _ := NewPlan(&PlanNode{Resolver: "plain", Batchable: true})
		_, err := e.Process(context.Background(), "run-1", plan, nil)
		assertEngineError(t, err, "MALFORMED_PLAN")
	})

	t.Run("unserializable seed", func(t *testing.T) {
		plan, _ := NewPlan(&PlanNode{Resolver: "plain"})
		_, err := e.Process(context.Background(), "run-1", plan, Attrs{"ch": make(chan int)})
		assertEngineError(t, err, "INVALID_SEED")
	})
}

// userPlanEngine builds an engine and plan for the canonical three-node
// dependency chain used throughout the runner tests:
//
//	user-by-id (id -> name) -> age-by-name (name -> age, batchable)
//	                        -> greeting (name -> greeting)
func userPlanEngine(t *testing.T, options ...Option) (*Engine, *Plan, *atomic.Int32) {
	t.Helper()
	e := New(emit.NewNullEmitter(), options...)

	batchCalls := &atomic.Int32{}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(e.Register(&Resolver{
		Name:    "user-by-id",
		Inputs:  []string{"id"},
		Outputs: []string{"name"},
		Fn: func(ctx context.Context, in Attrs) (Attrs, error) {
			names := map[float64]string{1: "ada", 2: "grace", 3: "edsger"}
			name, ok := names[in["id"].(float64)]
			if !ok {
				return nil, errors.New("no such user")
			}
			return Attrs{"name": name}, nil
		},
	}))
	must(e.Register(&Resolver{
		Name:      "age-by-name",
		Inputs:    []string{"name"},
		Outputs:   []string{"age"},
		Batchable: true,
		BatchFn: func(ctx context.Context, in []Attrs) ([]Attrs, error) {
			batchCalls.Add(1)
			ages := map[string]int{"ada": 36, "grace": 85, "edsger": 72}
			out := make([]Attrs, len(in))
			for i, snap := range in {
				out[i] = Attrs{"age": ages[snap["name"].(string)]}
			}
			return out, nil
		},
	}))
	must(e.Register(&Resolver{
		Name:    "greeting",
		Inputs:  []string{"name"},
		Outputs: []string{"greeting"},
		Fn: func(ctx context.Context, in Attrs) (Attrs, error) {
			return Attrs{"greeting": "hello, " + in["name"].(string)}, nil
		},
	}))

	plan, err := NewPlan(
		&PlanNode{Resolver: "user-by-id", Inputs: []string{"id"}, Outputs: []string{"name"}},
		&PlanNode{Resolver: "age-by-name", Inputs: []string{"name"}, Outputs: []string{"age"},
			DependsOn: []string{"user-by-id"}, Batchable: true},
		&PlanNode{Resolver: "greeting", Inputs: []string{"name"}, Outputs: []string{"greeting"},
			DependsOn: []string{"user-by-id"}},
	)
	must(err)
	return e, plan, batchCalls
}

func TestEngineProcessSerial(t *testing.T) {
	e, plan, _ := userPlanEngine(t)

	ectx, err := e.Process(context.Background(), "run-1", plan, Attrs{"id": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, _ := ectx.Read("name"); v != "ada" {
		t.Errorf("expected name=ada, got %v", v)
	}
	if v, _ := ectx.Read("age"); v != 36 {
		t.Errorf("expected age=36, got %v", v)
	}
	if v, _ := ectx.Read("greeting"); v != "hello, ada" {
		t.Errorf("expected greeting, got %v", v)
	}
	if len(ectx.Failed()) != 0 {
		t.Errorf("expected no failures, got %v", ectx.Failed())
	}
}

func TestEngineProcessAllBatchesAcrossEntities(t *testing.T) {
	e, plan, batchCalls := userPlanEngine(t)

	ectxs, err := e.ProcessAll(context.Background(), "run-1", plan,
		[]Attrs{{"id": 1}, {"id": 2}, {"id": 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ectxs) != 3 {
		t.Fatalf("expected 3 contexts, got %d", len(ectxs))
	}

	wantAges := []int{36, 85, 72}
	for i, ectx := range ectxs {
		if v, _ := ectx.Read("age"); v != wantAges[i] {
			t.Errorf("entity %d: expected age=%d, got %v", i, wantAges[i], v)
		}
	}

	// All three entities reach age-by-name in the same scan pass, so the
	// serial runner flushes them as one grouped call at the scan boundary.
	if got := batchCalls.Load(); got != 1 {
		t.Errorf("expected 1 grouped call for 3 entities, got %d", got)
	}
}

func TestEngineFailurePropagation(t *testing.T) {
	e, plan, _ := userPlanEngine(t)

	// id=99 makes user-by-id fail; its dependents must be propagated as
	// failed without being invoked, and the run itself still completes.
	ectx, err := e.Process(context.Background(), "run-1", plan, Attrs{"id": 99})
	if err != nil {
		t.Fatalf("expected run to complete despite node failure, got %v", err)
	}

	for _, key := range []string{"name", "age", "greeting"} {
		if _, ok := ectx.Read(key); ok {
			t.Errorf("expected %s to be unresolved", key)
		}
		if ectx.AttrErr(key) == nil {
			t.Errorf("expected failure marker for %s", key)
		}
	}

	var re *ResolveError
	if !errors.As(ectx.AttrErr("age"), &re) {
		t.Fatalf("expected *ResolveError on age, got %T", ectx.AttrErr("age"))
	}
	if !re.Propagated {
		t.Error("expected age failure to be propagated, not direct")
	}
	if direct := ectx.AttrErr("name"); errors.As(direct, &re) && re.Propagated {
		t.Error("expected name failure to be direct, not propagated")
	}
}

func TestEngineIndependentBranchSurvivesFailure(t *testing.T) {
	e := New(nil)
	fail := errors.New("left branch down")
	mustRegister(t, e, &Resolver{
		Name:    "left",
		Outputs: []string{"l"},
		Fn:      func(ctx context.Context, in Attrs) (Attrs, error) { return nil, fail },
	})
	mustRegister(t, e, &Resolver{
		Name:    "right",
		Outputs: []string{"r"},
		Fn:      func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{"r": "ok"}, nil },
	})

	plan, err := NewPlan(
		&PlanNode{Resolver: "left", Outputs: []string{"l"}},
		&PlanNode{Resolver: "right", Outputs: []string{"r"}},
	)
	if err != nil {
		t.Fatal(err)
	}

	ectx, err := e.Process(context.Background(), "run-1", plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := ectx.Read("r"); !ok || v != "ok" {
		t.Errorf("expected independent branch to resolve, got %v (present=%v)", v, ok)
	}
	if !errors.Is(ectx.AttrErr("l"), fail) {
		t.Errorf("expected failure marker carrying cause, got %v", ectx.AttrErr("l"))
	}
}

func TestEngineCycleDetection(t *testing.T) {
	e := New(nil)
	noop := func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{}, nil }
	mustRegister(t, e, &Resolver{Name: "a", Fn: noop})
	mustRegister(t, e, &Resolver{Name: "b", Fn: noop})

	plan, err := NewPlan(
		&PlanNode{Resolver: "a", DependsOn: []string{"b"}},
		&PlanNode{Resolver: "b", DependsOn: []string{"a"}},
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Process(context.Background(), "run-1", plan, nil)
	if !errors.Is(err, ErrPlanCycle) {
		t.Errorf("expected ErrPlanCycle, got %v", err)
	}
}

func TestEngineBatchLengthMismatchAbortsRun(t *testing.T) {
	e := New(nil)
	mustRegister(t, e, &Resolver{
		Name:      "bad-batch",
		Outputs:   []string{"x"},
		Batchable: true,
		BatchFn: func(ctx context.Context, in []Attrs) ([]Attrs, error) {
			return make([]Attrs, len(in)+1), nil
		},
	})
	plan, err := NewPlan(&PlanNode{Resolver: "bad-batch", Outputs: []string{"x"}, Batchable: true})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.ProcessAll(context.Background(), "run-1", plan, []Attrs{{}, {}})
	if !errors.Is(err, ErrBatchLengthMismatch) {
		t.Errorf("expected ErrBatchLengthMismatch, got %v", err)
	}
}

func TestEngineCancellation(t *testing.T) {
	e := New(nil)
	started := make(chan struct{})
	mustRegister(t, e, &Resolver{
		Name:    "slow",
		Outputs: []string{"x"},
		Fn: func(ctx context.Context, in Attrs) (Attrs, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	plan, err := NewPlan(&PlanNode{Resolver: "slow", Outputs: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = e.Process(ctx, "run-1", plan, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEngineEmitsEvents(t *testing.T) {
	buffered := emit.NewBufferedEmitter()
	e := New(buffered)
	mustRegister(t, e, &Resolver{
		Name:    "noop",
		Outputs: []string{"x"},
		Fn:      func(ctx context.Context, in Attrs) (Attrs, error) { return Attrs{"x": 1}, nil },
	})
	plan, err := NewPlan(&PlanNode{Resolver: "noop", Outputs: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Process(context.Background(), "run-evt", plan, nil); err != nil {
		t.Fatal(err)
	}

	history := buffered.GetHistory("run-evt")
	msgs := make(map[string]int)
	for _, evt := range history {
		msgs[evt.Msg]++
	}
	for _, want := range []string{"run_start", "node_completed", "run_completed"} {
		if msgs[want] == 0 {
			t.Errorf("expected at least one %q event, history: %v", want, msgs)
		}
	}

	completed := buffered.GetHistoryWithFilter("run-evt", emit.HistoryFilter{Msg: "node_completed"})
	if len(completed) != 1 || completed[0].Resolver != "noop" {
		t.Errorf("unexpected node_completed events: %+v", completed)
	}
}

func TestEngineProcessAsync(t *testing.T) {
	e, plan, _ := userPlanEngine(t)

	aw := e.ProcessAsync(context.Background(), "run-1", plan, []Attrs{{"id": 1}, {"id": 2}})
	ectxs, err := aw.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ectxs) != 2 {
		t.Fatalf("expected 2 contexts, got %d", len(ectxs))
	}
	if v, _ := ectxs[0].Read("age"); v != 36 {
		t.Errorf("entity 0: expected age=36, got %v", v)
	}
	if v, _ := ectxs[1].Read("age"); v != 85 {
		t.Errorf("entity 1: expected age=85, got %v", v)
	}
}

func mustRegister(t *testing.T, e *Engine, r *Resolver) {
	t.Helper()
	if err := e.Register(r); err != nil {
		t.Fatal(err)
	}
}

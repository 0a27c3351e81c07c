package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelMatchesSerial(t *testing.T) {
	// The same plan over the same seeds must produce identical final
	// contexts under both runners.
	seeds := []Attrs{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 99}}

	serialEngine, plan, _ := userPlanEngine(t)
	serialOut, err := serialEngine.ProcessAll(context.Background(), "run-s", plan, seeds)
	if err != nil {
		t.Fatalf("serial: unexpected error: %v", err)
	}

	parallelEngine, plan2, _ := userPlanEngine(t, WithParallel(true), WithMaxConcurrent(4))
	parallelOut, err := parallelEngine.ProcessAll(context.Background(), "run-p", plan2, seeds)
	if err != nil {
		t.Fatalf("parallel: unexpected error: %v", err)
	}

	for i := range seeds {
		s, p := serialOut[i].Snapshot(), parallelOut[i].Snapshot()
		if len(s) != len(p) {
			t.Errorf("entity %d: attribute counts differ: serial=%v parallel=%v", i, s, p)
			continue
		}
		for k, v := range s {
			if p[k] != v {
				t.Errorf("entity %d: %s differs: serial=%v parallel=%v", i, k, v, p[k])
			}
		}
		sf, pf := serialOut[i].Failed(), parallelOut[i].Failed()
		if len(sf) != len(pf) {
			t.Errorf("entity %d: failure sets differ: serial=%v parallel=%v", i, sf, pf)
		}
	}
}

func TestParallelIndependentBranchesOverlap(t *testing.T) {
	e := New(nil, WithParallel(true), WithMaxConcurrent(4))

	var concurrent, peak atomic.Int32
	slowBranch := func(key string) *Resolver {
		return &Resolver{
			Name:    key,
			Outputs: []string{key},
			Fn: func(ctx context.Context, in Attrs) (Attrs, error) {
				cur := concurrent.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				concurrent.Add(-1)
				return Attrs{key: true}, nil
			},
		}
	}
	mustRegister(t, e, slowBranch("branch-a"))
	mustRegister(t, e, slowBranch("branch-b"))
	mustRegister(t, e, slowBranch("branch-c"))

	plan, err := NewPlan(
		&PlanNode{Resolver: "branch-a", Outputs: []string{"branch-a"}},
		&PlanNode{Resolver: "branch-b", Outputs: []string{"branch-b"}},
		&PlanNode{Resolver: "branch-c", Outputs: []string{"branch-c"}},
	)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	ectx, err := e.Process(context.Background(), "run-1", plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ectx.Len() != 3 {
		t.Fatalf("expected 3 resolved attributes, got %d", ectx.Len())
	}
	if peak.Load() < 2 {
		t.Errorf("expected independent branches to overlap, peak concurrency %d", peak.Load())
	}
	if elapsed := time.Since(start); elapsed > 80*time.Millisecond {
		t.Errorf("three 30ms branches took %v; expected concurrent execution", elapsed)
	}
}

func TestParallelMaxConcurrentBound(t *testing.T) {
	e := New(nil, WithParallel(true), WithMaxConcurrent(2))

	var concurrent, peak atomic.Int32
	var nodes []*PlanNode
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("n%d", i)
		mustRegister(t, e, &Resolver{
			Name:    name,
			Outputs: []string{name},
			Fn: func(ctx context.Context, in Attrs) (Attrs, error) {
				cur := concurrent.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				concurrent.Add(-1)
				return Attrs{name: true}, nil
			},
		})
		nodes = append(nodes, &PlanNode{Resolver: name, Outputs: []string{name}})
	}
	plan, err := NewPlan(nodes...)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Process(context.Background(), "run-1", plan, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("expected concurrency bounded at 2, saw %d", peak.Load())
	}
}

func TestParallelBatchWindowCoalesces(t *testing.T) {
	// Without scan boundaries, the time window is what groups requests:
	// entities reach the batchable node at slightly different times, and the
	// hold delay must still coalesce them into one call.
	var batchCalls atomic.Int32
	e := New(nil, WithParallel(true), WithBatchHoldDelay(50*time.Millisecond))

	mustRegister(t, e, &Resolver{
		Name:    "jittery",
		Inputs:  []string{"id"},
		Outputs: []string{"seen"},
		Fn: func(ctx context.Context, in Attrs) (Attrs, error) {
			// Stagger arrival at the batch node per entity.
			time.Sleep(time.Duration(in["id"].(float64)) * 3 * time.Millisecond)
			return Attrs{"seen": in["id"]}, nil
		},
	})
	mustRegister(t, e, &Resolver{
		Name:      "collect",
		Inputs:    []string{"seen"},
		Outputs:   []string{"collected"},
		Batchable: true,
		BatchFn: func(ctx context.Context, in []Attrs) ([]Attrs, error) {
			batchCalls.Add(1)
			out := make([]Attrs, len(in))
			for i, snap := range in {
				out[i] = Attrs{"collected": snap["seen"]}
			}
			return out, nil
		},
	})

	plan, err := NewPlan(
		&PlanNode{Resolver: "jittery", Inputs: []string{"id"}, Outputs: []string{"seen"}},
		&PlanNode{Resolver: "collect", Inputs: []string{"seen"}, Outputs: []string{"collected"},
			DependsOn: []string{"jittery"}, Batchable: true},
	)
	if err != nil {
		t.Fatal(err)
	}

	seeds := []Attrs{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}}
	ectxs, err := e.ProcessAll(context.Background(), "run-1", plan, seeds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, ectx := range ectxs {
		if v, ok := ectx.Read("collected"); !ok || v != float64(i+1) {
			t.Errorf("entity %d: expected collected=%d, got %v", i, i+1, v)
		}
	}
	if got := batchCalls.Load(); got != 1 {
		t.Errorf("expected staggered arrivals to coalesce into 1 call, got %d", got)
	}
}

func TestParallelFlushThreshold(t *testing.T) {
	var sizes []int
	var mu sync.Mutex
	e := New(nil, WithParallel(true),
		WithBatchHoldDelay(time.Hour), WithBatchFlushThreshold(2))

	mustRegister(t, e, &Resolver{
		Name:      "pairs",
		Inputs:    []string{"id"},
		Outputs:   []string{"out"},
		Batchable: true,
		BatchFn: func(ctx context.Context, in []Attrs) ([]Attrs, error) {
			mu.Lock()
			sizes = append(sizes, len(in))
			mu.Unlock()
			out := make([]Attrs, len(in))
			for i, snap := range in {
				out[i] = Attrs{"out": snap["id"]}
			}
			return out, nil
		},
	})
	plan, err := NewPlan(&PlanNode{Resolver: "pairs", Inputs: []string{"id"},
		Outputs: []string{"out"}, Batchable: true})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.ProcessAll(context.Background(), "run-1", plan,
		[]Attrs{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 {
		t.Fatalf("expected 2 flushes at threshold 2, got %d (%v)", len(sizes), sizes)
	}
	for _, s := range sizes {
		if s != 2 {
			t.Errorf("expected every flush at size 2, got %v", sizes)
		}
	}
}

func TestParallelFatalBatchAborts(t *testing.T) {
	e := New(nil, WithParallel(true))
	mustRegister(t, e, &Resolver{
		Name:      "bad-batch",
		Outputs:   []string{"x"},
		Batchable: true,
		BatchFn: func(ctx context.Context, in []Attrs) ([]Attrs, error) {
			return nil, nil // zero outputs for n inputs
		},
	})
	plan, err := NewPlan(&PlanNode{Resolver: "bad-batch", Outputs: []string{"x"}, Batchable: true})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.ProcessAll(context.Background(), "run-1", plan, []Attrs{{}, {}, {}})
	if !errors.Is(err, ErrBatchLengthMismatch) {
		t.Errorf("expected ErrBatchLengthMismatch, got %v", err)
	}
}

func TestParallelCancellation(t *testing.T) {
	e := New(nil, WithParallel(true))
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

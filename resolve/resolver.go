package resolve

import "context"

// ResolverFunc is a synchronous resolver body: it receives the exact input
// snapshot for one entity and returns the attributes it produced.
type ResolverFunc func(ctx context.Context, in Attrs) (Attrs, error)

// AsyncResolverFunc is an asynchronous resolver body: it returns an
// Awaitable that settles with the produced attributes. Use the Go or
// FromChannels adapters to wrap whatever asynchronous primitive the
// resolver's I/O layer exposes.
type AsyncResolverFunc func(ctx context.Context, in Attrs) *Awaitable[Attrs]

// BatchResolverFunc is a batchable resolver body: it receives an ordered
// list of input snapshots (one per pending request) and must return an
// output list of exactly the same length, where output i corresponds to
// input i. A length mismatch is a fatal batch error.
type BatchResolverFunc func(ctx context.Context, in []Attrs) ([]Attrs, error)

// Resolver declares one resolver unit: the attributes it consumes, the
// attributes it produces, and the user-supplied function that does the
// work. Resolver bodies are opaque to the engine: any HTTP, database, or
// model I/O happens inside them.
//
// Exactly one of Fn, AsyncFn, or BatchFn must be set. BatchFn requires
// Batchable to be true and vice versa.
//
// Example:
//
//	ageResolver := &resolve.Resolver{
//	    Name:    "age-by-name",
//	    Inputs:  []string{"name"},
//	    Outputs: []string{"age"},
//	    Batchable: true,
//	    BatchFn: func(ctx context.Context, in []resolve.Attrs) ([]resolve.Attrs, error) {
//	        out := make([]resolve.Attrs, len(in))
//	        for i, snap := range in {
//	            out[i] = resolve.Attrs{"age": lookupAge(snap["name"].(string))}
//	        }
//	        return out, nil
//	    },
//	}
type Resolver struct {
	// Name uniquely identifies the resolver within an engine.
	Name string

	// Inputs lists the attribute keys this resolver consumes.
	Inputs []string

	// Outputs lists the attribute keys this resolver produces.
	Outputs []string

	// Fn is the synchronous body.
	Fn ResolverFunc

	// AsyncFn is the asynchronous body.
	AsyncFn AsyncResolverFunc

	// BatchFn is the grouped body for batchable resolvers.
	BatchFn BatchResolverFunc

	// Batchable marks the resolver for coalescing through the batch
	// coordinator. Requires BatchFn.
	Batchable bool

	// Cacheable lets the engine memoize results per unique input snapshot
	// when a cache backend is configured.
	Cacheable bool

	// Policy optionally overrides engine defaults for timeout and retry
	// behavior of direct (non-batched) invocations.
	Policy *Policy
}

// validate checks the declaration for internal consistency.
func (r *Resolver) validate() error {
	if r == nil {
		return &EngineError{Message: "resolver cannot be nil"}
	}
	if r.Name == "" {
		return &EngineError{Message: "resolver name cannot be empty"}
	}
	bodies := 0
	if r.Fn != nil {
		bodies++
	}
	if r.AsyncFn != nil {
		bodies++
	}
	if r.BatchFn != nil {
		bodies++
	}
	if bodies != 1 {
		return &EngineError{
			Message: "resolver " + r.Name + " must set exactly one of Fn, AsyncFn, BatchFn",
			Code:    "INVALID_RESOLVER",
		}
	}
	if r.Batchable != (r.BatchFn != nil) {
		return &EngineError{
			Message: "resolver " + r.Name + ": Batchable and BatchFn must be set together",
			Code:    "INVALID_RESOLVER",
		}
	}
	return nil
}

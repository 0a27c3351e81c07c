package resolve

import "errors"

// ErrPlanCycle indicates that traversal stalled with unstarted nodes whose
// dependencies can never complete. The engine treats this as a fatal
// planning error; plans are expected to arrive acyclic.
var ErrPlanCycle = errors.New("plan cycle detected: no runnable nodes remain")

// ErrBatchLengthMismatch indicates a batched resolver returned an output
// list whose length differs from the input list it was given. No partial
// results are delivered; the run aborts.
var ErrBatchLengthMismatch = errors.New("batched resolver output length does not match input length")

// Node-level failure causes recorded on entity contexts.
var (
	errMissingInput    = errors.New("input attribute missing from context")
	errUnknownResolver = errors.New("resolver not registered")
)

// EngineError represents a structural error from engine operations:
// registration failures, malformed plans, or configuration problems.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ResolveError records the failure of a single resolver invocation, or the
// propagated failure of a node whose dependency failed.
//
// ResolveErrors are recovered at the node boundary: they are recorded as
// failure markers on the entity context and do not abort sibling branches.
type ResolveError struct {
	// Resolver is the name of the resolver whose node failed.
	Resolver string

	// Propagated is true when this node was never invoked because a
	// dependency had already failed.
	Propagated bool

	// Cause is the underlying failure.
	Cause error
}

func (e *ResolveError) Error() string {
	if e.Propagated {
		return "resolver " + e.Resolver + ": dependency failed: " + e.Cause.Error()
	}
	return "resolver " + e.Resolver + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ResolveError) Unwrap() error { return e.Cause }

// BatchError records the failure of a flushed batch group. Every request in
// the group receives the same BatchError; there is no partial-success
// decomposition at this layer.
type BatchError struct {
	// Resolver is the batchable resolver whose grouped call failed.
	Resolver string

	// Size is the number of pending requests in the group.
	Size int

	// Fatal marks structural batch failures (output length mismatch) that
	// abort the whole run rather than a single node.
	Fatal bool

	// Cause is the underlying failure.
	Cause error
}

func (e *BatchError) Error() string {
	return "batch " + e.Resolver + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BatchError) Unwrap() error { return e.Cause }

// fatalBatch reports whether err carries a fatal batch failure.
func fatalBatch(err error) bool {
	var be *BatchError
	return errors.As(err, &be) && be.Fatal
}

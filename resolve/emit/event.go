package emit

// Event represents an observability event emitted during a resolution run.
//
// Events provide detailed insight into run behavior:
//   - Node execution completion and failure
//   - Batch group flushes (size and trigger)
//   - Run start/completion/failure
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Buffer in memory for inspection
type Event struct {
	// RunID identifies the resolution run that emitted this event.
	RunID string

	// Entity is the index of the entity within the run's seed list.
	// Negative for run-level events (run_start, run_completed, run_failed)
	// and for batch events, which span entities.
	Entity int

	// Resolver identifies which resolver this event concerns.
	// Empty string for run-level events.
	Resolver string

	// Msg is a short machine-matchable description of the event.
	// Common values: "run_start", "run_completed", "run_failed",
	// "node_completed", "node_failed", "batch_flush".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "error": failure details
	//   - "size": number of requests in a flushed batch group
	//   - "trigger": what flushed a batch group (idle, threshold, scan)
	//   - "entities": seed count for run_start
	Meta map[string]interface{}
}

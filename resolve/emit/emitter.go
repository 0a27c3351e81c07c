package emit

// Emitter receives and processes observability events from resolution runs.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry, Jaeger, Zipkin
//   - In-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: avoid slowing down resolution
//   - Thread-safe: may be called concurrently from the parallel runner
//   - Resilient: handle failures gracefully (never crash a run)
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Implementations should not block resolution. If the backend is
	// unavailable or slow, events should be buffered, dropped with
	// internal logging, or sent asynchronously.
	//
	// Emit should not panic.
	Emit(event Event)
}

package emit

// NullEmitter implements Emitter by discarding all events.
//
// This is a no-op emitter for environments where event logging is not
// desired. It implements the Emitter interface but does nothing with
// emitted events.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
//
// Returns a NullEmitter that discards all events without any processing.
// Safe for concurrent use and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}

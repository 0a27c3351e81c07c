package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// run history analysis. Events are organized by runID for efficient
// retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by runID with optional filtering
//   - Filter by resolver, message, entity
//   - Clear events by runID or all events
//
// Warning: this emitter stores all events in memory. For long-running
// processes with high event volume, implement rotation/cleanup or use a
// different backend.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine := resolve.New(emitter)
//
//	engine.Process(ctx, "run-001", plan, seed)
//
//	allEvents := emitter.GetHistory("run-001")
//	failures := emitter.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "node_failed"})
//
//	emitter.Clear("run-001")
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering run history.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
//
// Example usage:
//
//	// Get all failures of a specific resolver
//	filter := emit.HistoryFilter{
//		Resolver: "age-by-name",
//		Msg:      "node_failed",
//	}
//	failures := emitter.GetHistoryWithFilter("run-001", filter)
//
//	// Get all events for entity 2
//	entity := 2
//	filter := emit.HistoryFilter{Entity: &entity}
//	entityEvents := emitter.GetHistoryWithFilter("run-001", filter)
type HistoryFilter struct {
	Resolver string // Filter by resolver name (empty = no filter)
	Msg      string // Filter by message (empty = no filter)
	Entity   *int   // Filter by entity index (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
//
// Returns a BufferedEmitter that stores all events in memory and provides
// query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
//
// Events are organized by runID for efficient retrieval. Thread-safe.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory retrieves all events for a specific runID.
//
// Returns events in the order they were emitted, or an empty slice if no
// events exist for the given runID. Returns a copy to prevent concurrent
// modification issues.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{} // Return empty slice instead of nil
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific runID.
//
// Applies the provided filter criteria to select matching events. All
// filter conditions must match for an event to be included (AND logic).
//
// Returns events in the order they were emitted, or an empty slice if no
// events match. Returns a copy of the events.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	// If filter is empty, return all events
	if filter.Resolver == "" && filter.Msg == "" && filter.Entity == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !b.matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{} // Return empty slice instead of nil
	}
	return result
}

// matchesFilter checks if an event matches the filter criteria.
func (b *BufferedEmitter) matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.Resolver != "" && event.Resolver != filter.Resolver {
		return false
	}

	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}

	if filter.Entity != nil && event.Entity != *filter.Entity {
		return false
	}

	return true
}

// Clear removes stored events.
//
// If runID is non-empty, clears only events for that specific run.
// If runID is empty, clears all stored events across all runs.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}

package cache

import (
	"context"
	"sync"
)

// MemCache is an in-memory implementation of Cache.
//
// Designed for:
//   - Testing without external dependencies
//   - Single-process services where losing the cache on restart is fine
//   - Development and prototyping before migrating to a persistent backend
//
// Entries live until evicted by Clear or process exit. There is no size
// bound; for long-running processes with unbounded key spaces, prefer a
// persistent backend or clear periodically.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any // "resolver\x00key" -> output
}

// NewMemCache creates an empty in-memory cache. Safe for concurrent use.
func NewMemCache() *MemCache {
	return &MemCache{
		entries: make(map[string]map[string]any),
	}
}

// compositeKey joins resolver and key with a separator that cannot appear
// in resolver names.
func compositeKey(resolver, key string) string {
	return resolver + "\x00" + key
}

// Get retrieves a stored output. Never returns an error.
func (m *MemCache) Get(ctx context.Context, resolver, key string) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out, ok := m.entries[compositeKey(resolver, key)]
	if !ok {
		return nil, false, nil
	}

	// Return a copy to prevent external modification
	result := make(map[string]any, len(out))
	for k, v := range out {
		result[k] = v
	}
	return result, true, nil
}

// Put stores an output, replacing any existing entry.
func (m *MemCache) Put(ctx context.Context, resolver, key string, out map[string]any) error {
	stored := make(map[string]any, len(out))
	for k, v := range out {
		stored[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[compositeKey(resolver, key)] = stored
	return nil
}

// Len returns the number of stored entries.
func (m *MemCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear removes all stored entries.
func (m *MemCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]map[string]any)
}

// Package cache provides memoization backends for cacheable resolvers.
//
// A cache maps (resolver name, input snapshot key) to the attribute map the
// resolver produced for that input. The engine consults the cache before
// invoking a cacheable resolver and stores the result afterward, so
// repeated runs over the same inputs skip the underlying call entirely.
//
// Three backends are provided:
//   - MemCache: in-process map, for tests and single-process services
//   - SQLiteCache: single-file database, survives restarts with zero setup
//   - MySQLCache: shared database, for fleets of workers resolving the
//     same universe of entities
//
// Entries are plain JSON documents; any backend can be swapped in without
// changing resolver code.
package cache

import "context"

// Cache stores resolver outputs keyed by resolver name and input snapshot.
//
// Implementations must be safe for concurrent use: the parallel runner
// consults the cache from many goroutines at once.
type Cache interface {
	// Get retrieves a previously stored output. The second return is false
	// on a miss; an error indicates a backend failure, not a miss.
	Get(ctx context.Context, resolver, key string) (map[string]any, bool, error)

	// Put stores a resolver output under (resolver, key), replacing any
	// existing entry.
	Put(ctx context.Context, resolver, key string, out map[string]any) error
}

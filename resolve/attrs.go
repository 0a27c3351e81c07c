// Package resolve provides the core execution runtime for Resolvent.
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Attrs is an attribute map for one entity: attribute key to resolved value.
//
// Attrs values flow through the engine in three roles:
//   - the seed passed to Process (externally known attributes)
//   - the input snapshot handed to a resolver invocation
//   - the partial output a resolver produces, merged into the entity context
type Attrs map[string]any

// Clone returns a shallow copy of the attribute map.
// Nested values are shared; the engine never mutates values in place.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return Attrs{}
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Pick returns a new Attrs containing only the listed keys.
// Missing keys are omitted; callers that require every key present
// should check with Has first.
func (a Attrs) Pick(keys []string) Attrs {
	out := make(Attrs, len(keys))
	for _, k := range keys {
		if v, ok := a[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Has reports whether every listed key is present.
func (a Attrs) Has(keys []string) bool {
	for _, k := range keys {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// SnapshotKey returns a deterministic key for this attribute snapshot.
//
// The key is the hex-encoded first 16 bytes of the SHA-256 hash of the
// snapshot's JSON encoding. encoding/json sorts map keys, so two snapshots
// with equal contents always produce the same key regardless of insertion
// order. Used to memoize cacheable resolver calls per unique input snapshot.
func (a Attrs) SnapshotKey() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

// deepCopy creates a deep copy of an attribute map using a JSON round-trip.
//
// Works for any JSON-serializable value. Used where a caller-supplied map
// must be isolated from engine-internal mutation (seeds, final snapshots).
func deepCopy(a Attrs) (Attrs, error) {
	if a == nil {
		return Attrs{}, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attrs: %w", err)
	}
	var copied Attrs
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attrs: %w", err)
	}
	if copied == nil {
		copied = Attrs{}
	}
	return copied, nil
}

package resolve

import "sync"

// Context is the evolving attribute map for one entity during one run.
//
// Mutation is append/overwrite-only: an attribute, once resolved, is never
// retracted. The planner guarantees concurrent writers target disjoint key
// sets, but merges are still serialized under a mutex so the map structure
// cannot be corrupted by concurrent resolver completions.
//
// A Context also carries failure markers: when a resolver invocation fails,
// its output attributes are marked failed rather than resolved, and nodes
// depending on them are propagated as failed without being invoked. The
// final Context therefore distinguishes resolved attributes from failed
// ones.
//
// A Context is exclusively owned by the run that created it until the run
// completes or fails; afterwards it is safe for the caller to read.
type Context struct {
	mu     sync.RWMutex
	attrs  Attrs
	failed map[string]error
}

// NewContext creates an entity context seeded with the given attributes.
// The seed is deep-copied so the caller's map is never aliased by the run.
func NewContext(seed Attrs) (*Context, error) {
	copied, err := deepCopy(seed)
	if err != nil {
		return nil, err
	}
	return &Context{
		attrs:  copied,
		failed: make(map[string]error),
	}, nil
}

// Read returns the current value for key, or ok=false if the attribute is
// absent (unresolved or failed).
func (c *Context) Read(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// Merge atomically unions partial into the context. Last writer wins per
// key; a merged attribute clears any earlier failure marker for that key.
func (c *Context) Merge(partial Attrs) {
	if len(partial) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range partial {
		c.attrs[k] = v
		delete(c.failed, k)
	}
}

// MarkFailed records err as the failure marker for each listed attribute.
// Attributes that already resolved keep their values.
func (c *Context) MarkFailed(keys []string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if _, resolved := c.attrs[k]; resolved {
			continue
		}
		c.failed[k] = err
	}
}

// AttrErr returns the failure marker for key, or nil if the attribute
// resolved or was never attempted.
func (c *Context) AttrErr(key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failed[key]
}

// Failed returns a copy of the failure markers keyed by attribute.
func (c *Context) Failed() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.failed))
	for k, v := range c.failed {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the resolved attributes, safe to retain after
// the run completes.
func (c *Context) Snapshot() Attrs {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attrs.Clone()
}

// snapshotInputs builds the exact input snapshot for a node. Every input
// key must be present; the bool result is false when one is missing.
func (c *Context) snapshotInputs(keys []string) (Attrs, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in := make(Attrs, len(keys))
	for _, k := range keys {
		v, ok := c.attrs[k]
		if !ok {
			return nil, false
		}
		in[k] = v
	}
	return in, true
}

// Len returns the number of resolved attributes.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.attrs)
}

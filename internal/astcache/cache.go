// Package astcache tracks when each file's AST-derived state was last
// invalidated. It deliberately holds no parsed trees itself — parsing
// libraries are black-box backends per spec §1 — and exists only to
// satisfy the apply engine's eager-invalidation requirement (spec §5:
// "AST caches are shared across tool calls; invalidation on file
// mutation is eager (synchronous at apply time)") with something a
// health tool can report on, grounded on the supervised-resource
// bookkeeping shape of the teacher's langserver/internal/cache package
// (a map of per-key state with a last-touched timestamp).
package astcache

import (
	"sync"
	"time"
)

// Cache records the last invalidation time for each file a plan apply
// has touched.
type Cache struct {
	mu            sync.Mutex
	invalidatedAt map[string]time.Time
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{invalidatedAt: make(map[string]time.Time)}
}

// InvalidateFile satisfies plan.CacheInvalidator: it records that uri's
// cached AST/document state, if any language plugin is holding one, is
// now stale.
func (c *Cache) InvalidateFile(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidatedAt[uri] = time.Now()
}

// LastInvalidated returns when uri was last invalidated, or the zero
// time if it never was.
func (c *Cache) LastInvalidated(uri string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidatedAt[uri]
}

// Size reports how many distinct files have been invalidated, for the
// health.pool_status-style operator surface.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.invalidatedAt)
}

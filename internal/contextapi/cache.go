package contextapi

import (
	"sync"
	"time"
)

// Cache keeps fetched contexts per segment for a fixed TTL. The zero TTL
// disables caching. A Cache is owned by whoever constructs it and is passed
// to [NewClient]; there is no package-level instance.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ctx     Context
	expires time.Time
}

// NewCache returns a Cache with the given TTL. now may be nil.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

// Get returns the unexpired context stored for segmentID.
func (c *Cache) Get(segmentID string) (Context, bool) {
	if c == nil || c.ttl <= 0 {
		return Context{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[segmentID]
	if !ok {
		return Context{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, segmentID)
		return Context{}, false
	}
	return e.ctx, true
}

// Put stores ctx for segmentID.
func (c *Cache) Put(segmentID string, ctx Context) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[segmentID] = cacheEntry{ctx: ctx, expires: c.now().Add(c.ttl)}
}

// Invalidate drops every entry, e.g. after the prompt configuration changed.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

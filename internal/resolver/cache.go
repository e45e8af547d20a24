package resolver

import (
	"sync"
	"time"

	"github.com/viamet/roadwatch-backend/internal/geosource"
)

// resultCache is a bounded TTL cache for nearest-edge lookups. A stored nil
// result is a real answer ("nothing in range") and is cached like any hit.
// Writes sweep expired entries opportunistically once the cache outgrows its
// bound, then evict arbitrarily if the sweep was not enough.
type resultCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
}

type cacheEntry struct {
	result    *geosource.NearestRoad
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &resultCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (c *resultCache) get(key string) (*geosource.NearestRoad, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result *geosource.NearestRoad) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
	}
	c.entries[key] = cacheEntry{result: result, expiresAt: time.Now().Add(c.ttl)}
}

func (c *resultCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *resultCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *resultCache) sweepLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	// Still full of live entries: drop arbitrary ones rather than grow.
	for key := range c.entries {
		if len(c.entries) < c.maxEntries {
			break
		}
		delete(c.entries, key)
	}
}

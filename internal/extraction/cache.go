package extraction

import (
	"sync"
	"time"
)

// cache stores successful extraction results keyed by input content hash.
// Reads never touch the circuit breaker's statistics.
type cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *cache) lookup(hash string) (Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, hash)
		c.mu.Unlock()
		return Result{}, false
	}
	result := entry.result
	result.FromCache = true
	return result, true
}

func (c *cache) store(hash string, result Result) {
	// Fallback results are not worth pinning for the TTL.
	if result.Fallback {
		return
	}
	result.FromCache = false
	c.mu.Lock()
	c.entries[hash] = cacheEntry{result: result, storedAt: c.now()}
	c.mu.Unlock()
}

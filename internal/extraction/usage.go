package extraction

import (
	"sync"
	"time"
)

// Usage accumulates accounting for extraction calls. It observes, never
// steers: nothing in the client consults it for control flow.
type Usage struct {
	mu           sync.Mutex
	calls        int
	attempts     int
	cacheHits    int
	cacheMisses  int
	fallbacks    int
	failures     int
	totalLatency time.Duration
}

// UsageSnapshot is a point-in-time copy of the accounting counters.
type UsageSnapshot struct {
	Calls        int           `json:"calls"`
	Attempts     int           `json:"attempts"`
	CacheHits    int           `json:"cache_hits"`
	CacheMisses  int           `json:"cache_misses"`
	Fallbacks    int           `json:"fallbacks"`
	Failures     int           `json:"failures"`
	TotalLatency time.Duration `json:"total_latency"`
}

func (u *Usage) recordCall(attempts int, latency time.Duration, failed bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.attempts += attempts
	u.totalLatency += latency
	if failed {
		u.failures++
	}
}

func (u *Usage) recordCacheHit() {
	u.mu.Lock()
	u.calls++
	u.cacheHits++
	u.mu.Unlock()
}

func (u *Usage) recordCacheMiss() {
	u.mu.Lock()
	u.cacheMisses++
	u.mu.Unlock()
}

// recordTrialFallback accounts for one call whose half-open trial attempt
// failed and whose caller received the fallback: the backend attempt and the
// fallback both belong to the same call.
func (u *Usage) recordTrialFallback(attempts int, latency time.Duration) {
	u.mu.Lock()
	u.calls++
	u.attempts += attempts
	u.totalLatency += latency
	u.failures++
	u.fallbacks++
	u.mu.Unlock()
}

func (u *Usage) recordFallback() {
	u.mu.Lock()
	u.calls++
	u.fallbacks++
	u.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (u *Usage) Snapshot() UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSnapshot{
		Calls:        u.calls,
		Attempts:     u.attempts,
		CacheHits:    u.cacheHits,
		CacheMisses:  u.cacheMisses,
		Fallbacks:    u.fallbacks,
		Failures:     u.failures,
		TotalLatency: u.totalLatency,
	}
}

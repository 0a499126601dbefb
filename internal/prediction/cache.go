package prediction

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aristath/tradebridge/internal/market"
)

// cacheEntry pairs a cached Prediction with the time it was written, so the
// TTL (golang-lru/v2 has no native expiry) can be enforced on lookup.
type cacheEntry struct {
	prediction market.Prediction
	writtenAt  time.Time
}

// predictionCache is an LRU cache keyed by (instrument, ts_bucket_ms) with
// a manual TTL layered on top of hashicorp/golang-lru/v2 (spec §4.D: "LRU,
// capacity 1000, TTL 5 minutes").
type predictionCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration

	hits   uint64
	misses uint64
}

func newPredictionCache(capacity int, ttl time.Duration) *predictionCache {
	if capacity <= 0 {
		capacity = 1000
	}
	c, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already guarded above.
		panic(fmt.Sprintf("prediction: lru.New: %v", err))
	}
	return &predictionCache{lru: c, ttl: ttl}
}

func cacheKey(instrument string, tsBucketMs int64) string {
	return fmt.Sprintf("%s@%d", instrument, tsBucketMs)
}

// get returns the cached Prediction for (instrument, tsBucketMs) if present
// and not expired, with cache_hit flipped to true and the timestamp
// refreshed (spec §4.D step 2; §8 property 10).
func (c *predictionCache) get(instrument string, tsBucketMs int64) (market.Prediction, bool) {
	key := cacheKey(instrument, tsBucketMs)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return market.Prediction{}, false
	}
	if time.Since(entry.writtenAt) > c.ttl {
		c.lru.Remove(key)
		c.misses++
		return market.Prediction{}, false
	}
	c.hits++
	p := entry.prediction
	p.CacheHit = true
	p.Timestamp = time.Now()
	return p, true
}

// HitRate returns the fraction of get calls that were served from cache
// since the cache was created (spec §4.H: "cache hit rate").
func (c *predictionCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// put writes p to the cache with cache_hit=false, per spec §4.D: "A cache
// entry MUST carry cache_hit=false when first written."
func (c *predictionCache) put(instrument string, tsBucketMs int64, p market.Prediction) {
	p.CacheHit = false
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(cacheKey(instrument, tsBucketMs), cacheEntry{prediction: p, writtenAt: time.Now()})
}

// Len returns the number of entries currently cached (surfaced on
// /health's "feature-cache size").
func (c *predictionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

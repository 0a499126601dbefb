package prediction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradebridge/internal/market"
)

func TestPredictionCache_PutThenGet(t *testing.T) {
	c := newPredictionCache(10, time.Minute)
	c.put("ES 03-25", 1000, market.Prediction{Direction: market.Long, Confidence: 0.7})

	got, ok := c.get("ES 03-25", 1000)
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.Equal(t, market.Long, got.Direction)
}

func TestPredictionCache_PutAlwaysWritesCacheHitFalse(t *testing.T) {
	c := newPredictionCache(10, time.Minute)
	c.put("ES 03-25", 1000, market.Prediction{CacheHit: true})

	// The next get() call is what flips CacheHit to true; a fresh write
	// must never itself be marked as a hit.
	c.mu.Lock()
	entry, ok := c.lru.Get(cacheKey("ES 03-25", 1000))
	c.mu.Unlock()
	require.True(t, ok)
	assert.False(t, entry.prediction.CacheHit)
}

func TestPredictionCache_ExpiresAfterTTL(t *testing.T) {
	c := newPredictionCache(10, 10*time.Millisecond)
	c.put("ES 03-25", 1000, market.Prediction{})

	time.Sleep(20 * time.Millisecond)

	_, ok := c.get("ES 03-25", 1000)
	assert.False(t, ok)
}

func TestPredictionCache_MissOnDifferentBucket(t *testing.T) {
	c := newPredictionCache(10, time.Minute)
	c.put("ES 03-25", 1000, market.Prediction{})

	_, ok := c.get("ES 03-25", 2000)
	assert.False(t, ok)
}

func TestPredictionCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newPredictionCache(1, time.Minute)
	c.put("ES 03-25", 1000, market.Prediction{})
	c.put("NQ 03-25", 1000, market.Prediction{})

	_, ok := c.get("ES 03-25", 1000)
	assert.False(t, ok, "first entry should have been evicted at capacity 1")

	_, ok = c.get("NQ 03-25", 1000)
	assert.True(t, ok)
}

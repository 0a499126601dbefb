package prediction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/tradebridge/internal/bridgeerr"
	"github.com/aristath/tradebridge/internal/market"
)

// Predictor is the external collaborator contract (spec §6): the model
// itself is out of scope, replaceable behind this single method.
type Predictor interface {
	Predict(ctx context.Context, vector FeatureVector) (market.Prediction, error)
}

// Config controls cache sizing and TTL (spec §6 env vars
// feature_cache_capacity, prediction_cache_ttl_ms).
type Config struct {
	CacheCapacity int
	CacheTTL      time.Duration
}

// Gateway implements Predict (spec §4.D): feature projection, cache,
// circuit breaker, model call, and fallback.
type Gateway struct {
	log       zerolog.Logger
	predictor Predictor
	cache     *predictionCache
	breaker   *circuitBreaker

	historyMu    sync.Mutex
	closeHistory map[string][]float64 // recent closes per instrument, for the RSI/EMA fallback enrichment
}

// New builds a Gateway wrapping predictor with the given cache configuration.
func New(log zerolog.Logger, predictor Predictor, cfg Config) *Gateway {
	return &Gateway{
		log:          log.With().Str("component", "prediction_gateway").Logger(),
		predictor:    predictor,
		cache:        newPredictionCache(cfg.CacheCapacity, cfg.CacheTTL),
		breaker:      newCircuitBreaker(),
		closeHistory: make(map[string][]float64),
	}
}

// Predict runs the full pipeline for one (instrument, frame) pair (spec §4.D).
func (g *Gateway) Predict(ctx context.Context, instrument string, frame market.MarketFrame) market.Prediction {
	start := time.Now()

	if cached, ok := g.cache.get(instrument, frame.TsBucketMs()); ok {
		return cached
	}

	vector := ProjectFeatures(frame)
	rsi, ema5 := g.enrichIndicators(instrument, frame)

	var result market.Prediction
	if g.breaker.allow() {
		callCtx, cancel := context.WithTimeout(ctx, g.breaker.timeout())
		p, err := g.predictor.Predict(callCtx, vector)
		cancel()
		if err != nil {
			g.breaker.record(true)
			g.log.Warn().Err(err).Str("instrument", instrument).Msg("predictor call failed, using fallback")
			result = fallbackPredict(vector.Price, rsi, ema5)
		} else {
			g.breaker.record(false)
			result = p
		}
	} else {
		result = fallbackPredict(vector.Price, rsi, ema5)
	}

	result.Instrument = instrument
	result.ProcessingMs = float64(time.Since(start).Microseconds()) / 1000.0
	result.Timestamp = time.Now()
	result = normalize(result)

	g.cache.put(instrument, frame.TsBucketMs(), result)
	return result
}

// enrichIndicators maintains a short rolling close-price history per
// instrument and derives rsi/ema5 via go-talib when the frame doesn't
// already carry them, so the fallback rule (spec §4.D step 5) has real
// values to compare against instead of only the feature-projection
// defaults. Predict runs on its own goroutine per market_data frame
// (internal/supervisor/dispatch.go) and from N worker goroutines in
// PredictBatch, so closeHistory needs its own lock independent of the
// cache's.
func (g *Gateway) enrichIndicators(instrument string, frame market.MarketFrame) (rsi, ema5 float64) {
	g.historyMu.Lock()
	hist := append(g.closeHistory[instrument], frame.Price)
	const maxHistory = 64
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	g.closeHistory[instrument] = hist
	hist = append([]float64(nil), hist...) // snapshot: talib below must not race a concurrent append
	g.historyMu.Unlock()

	if frame.RSI != nil {
		rsi = *frame.RSI
	} else if len(hist) >= 15 {
		rsi = talib.Rsi(hist, 14)[len(hist)-1]
	} else {
		rsi = defaultRSI
	}

	if frame.EMA5 != nil {
		ema5 = *frame.EMA5
	} else if len(hist) >= 5 {
		ema5 = talib.Ema(hist, 5)[len(hist)-1]
	} else {
		ema5 = frame.Price
	}
	return rsi, ema5
}

// CircuitOpen reports the breaker's open/closed state for /health.
func (g *Gateway) CircuitOpen() bool { return g.breaker.Open() }

// CircuitState returns a human-readable breaker state for /health.
func (g *Gateway) CircuitState() string { return g.breaker.StateString() }

// CacheSize returns the current number of cached predictions for /health.
func (g *Gateway) CacheSize() int { return g.cache.Len() }

// CacheHitRate returns the fraction of Predict calls served from cache
// since startup, for /metrics (spec §4.H: "cache hit rate").
func (g *Gateway) CacheHitRate() float64 { return g.cache.HitRate() }

// DependencyError wraps a predictor failure as a bridgeerr.Dependency, for
// components that need a typed outcome rather than the bare error
// returned by a Predictor implementation.
func DependencyError(op string, err error) *bridgeerr.Error {
	return bridgeerr.New(bridgeerr.Dependency, op, fmt.Errorf("predictor: %w", err))
}

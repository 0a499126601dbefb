package prediction

import "github.com/aristath/tradebridge/internal/market"

// fallbackPredict implements the deterministic rule used when the circuit
// breaker is open or the model call fails (spec §4.D step 5). It does not
// need go-talib directly — the rule only consumes already-computed rsi/ema5
// values. The gateway derives those with go-talib RSI/EMA from recent
// closes when a frame omits them (enrichIndicators in gateway.go); the
// vector passed to the external predictor does not use them.
func fallbackPredict(price, rsi, ema5 float64) market.Prediction {
	var direction market.Direction
	var strength float64

	switch {
	case rsi < 30 && price > ema5:
		direction, strength = market.Long, 0.45
	case rsi > 70 && price < ema5:
		direction, strength = market.Short, 0.45
	default:
		direction, strength = market.Neutral, 0.30
	}

	p := market.Prediction{
		Direction:    direction,
		Confidence:   0.40,
		Strength:     strength,
		FallbackUsed: true,
	}
	switch direction {
	case market.Long:
		p.LongProb, p.ShortProb = 0.55, 0.45
	case market.Short:
		p.LongProb, p.ShortProb = 0.45, 0.55
	default:
		p.LongProb, p.ShortProb = 0.50, 0.50
	}
	return p
}

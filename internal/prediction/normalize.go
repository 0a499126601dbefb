package prediction

import "github.com/aristath/tradebridge/internal/market"

// normalize clamps probabilities into [0,1], re-scales to satisfy the
// long_prob+short_prob<=1+eps invariant, clamps fallback confidence, and
// derives Recommendation from (confidence, strength) per spec §4.D step 6.
func normalize(p market.Prediction) market.Prediction {
	p.LongProb = clamp01(p.LongProb)
	p.ShortProb = clamp01(p.ShortProb)
	p.Confidence = clamp01(p.Confidence)
	p.Strength = clamp01(p.Strength)

	const eps = 1e-6
	if sum := p.LongProb + p.ShortProb; sum > 1+eps {
		scale := 1.0 / sum
		p.LongProb *= scale
		p.ShortProb *= scale
	}

	if p.FallbackUsed && p.Confidence > 0.5 {
		p.Confidence = 0.5
	}

	p.Recommendation = recommendationFor(p.Confidence, p.Strength)
	return p
}

func recommendationFor(confidence, strength float64) market.Recommendation {
	switch {
	case confidence > 0.8 && strength > 0.3:
		return market.RecommendationStrong
	case confidence > 0.7 && strength > 0.2:
		return market.RecommendationModerate
	case confidence > 0.6 && strength > 0.1:
		return market.RecommendationWeak
	default:
		return market.RecommendationNeutral
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

package prediction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/tradebridge/internal/market"
)

func TestFallbackPredict_OversoldAboveEma_GoesLong(t *testing.T) {
	p := fallbackPredict(100, 25, 98)
	assert.Equal(t, market.Long, p.Direction)
	assert.True(t, p.FallbackUsed)
}

func TestFallbackPredict_OverboughtBelowEma_GoesShort(t *testing.T) {
	p := fallbackPredict(100, 75, 102)
	assert.Equal(t, market.Short, p.Direction)
}

func TestFallbackPredict_Neutral_Otherwise(t *testing.T) {
	p := fallbackPredict(100, 50, 100)
	assert.Equal(t, market.Neutral, p.Direction)
}

func TestNormalize_ClampsFallbackConfidence(t *testing.T) {
	p := normalize(market.Prediction{FallbackUsed: true, Confidence: 0.9, LongProb: 0.5, ShortProb: 0.5})
	assert.LessOrEqual(t, p.Confidence, 0.5)
}

func TestNormalize_RescalesProbabilitiesOverOne(t *testing.T) {
	p := normalize(market.Prediction{LongProb: 0.9, ShortProb: 0.8})
	assert.InDelta(t, 1.0, p.LongProb+p.ShortProb, 1e-6)
}

func TestNormalize_RecommendationTiers(t *testing.T) {
	tests := []struct {
		confidence, strength float64
		want                 market.Recommendation
	}{
		{0.9, 0.5, market.RecommendationStrong},
		{0.75, 0.25, market.RecommendationModerate},
		{0.65, 0.15, market.RecommendationWeak},
		{0.3, 0.05, market.RecommendationNeutral},
	}
	for _, tt := range tests {
		got := recommendationFor(tt.confidence, tt.strength)
		assert.Equal(t, tt.want, got)
	}
}

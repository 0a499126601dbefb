package prediction

import (
	"context"

	"github.com/aristath/tradebridge/internal/market"
)

// RuleBasedPredictor is the default Predictor implementation: the
// deterministic rule from spec §4.D step 5, always available with no
// external dependency. Spec §6: "a fallback implementation that always
// returns the rule-based Prediction satisfies the contract."
type RuleBasedPredictor struct{}

func (RuleBasedPredictor) Predict(ctx context.Context, vector FeatureVector) (market.Prediction, error) {
	p := fallbackPredict(vector.Price, vector.RSI, vector.Price)
	p.FallbackUsed = false // this predictor's output IS the primary path, not a degraded fallback
	return p, nil
}

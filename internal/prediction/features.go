// Package prediction implements the Prediction Gateway (spec §4.D): feature
// projection, a short-TTL cache in front of an external predictor guarded
// by a circuit breaker, and a deterministic fallback rule.
package prediction

import (
	"math"

	"github.com/aristath/tradebridge/internal/market"
)

// FeatureVector is the fixed-order numeric projection of a MarketFrame fed
// to the external Predictor (spec §4.D step 1).
type FeatureVector struct {
	Price        float64
	RSI          float64
	EMAAlignment float64
	Volume       float64
	ATR          float64
}

// defaults applied when a field is absent from the frame (spec §4.D step 1).
const (
	defaultRSI          = 50.0
	defaultEMAAlignment = 0.0
	defaultVolume       = 1000.0
	defaultATR          = 1.0
)

// ProjectFeatures builds a FeatureVector from frame, substituting defaults
// for absent fields and replacing NaN/±Inf with 0 everywhere (spec §4.D
// step 1).
func ProjectFeatures(frame market.MarketFrame) FeatureVector {
	v := FeatureVector{
		Price:        sanitize(frame.Price),
		RSI:          sanitize(derefOr(frame.RSI, defaultRSI)),
		EMAAlignment: sanitize(derefOr(frame.EMAAlignment, defaultEMAAlignment)),
		Volume:       sanitize(derefOr(frame.Volume, defaultVolume)),
		ATR:          sanitize(derefOr(frame.ATR, defaultATR)),
	}
	return v
}

func derefOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

func sanitize(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// AsSlice returns the vector in the fixed order expected by Predictor
// implementations.
func (v FeatureVector) AsSlice() []float64 {
	return []float64{v.Price, v.RSI, v.EMAAlignment, v.Volume, v.ATR}
}

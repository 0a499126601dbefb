// Package trailing implements the Trailing Controller (spec §4.F): the
// adaptive ATR-based stop policy with monotonicity, bounded movement, and
// confidence gating, throttled per position.
package trailing

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/tradebridge/internal/market"
)

const (
	baseATRMultiplier   = 1.5
	defaultMaxMoveATR   = 0.5
	defaultMinConfidence = 0.6
	defaultThrottle     = 15 * time.Second
	significanceATR     = 0.5
	volumeSpikeFactor   = 1.5
)

// Config controls the throttle and bound parameters (spec §6 env vars
// trailing_throttle_ms, trailing_max_move_atr, trailing_min_confidence).
type Config struct {
	Throttle      time.Duration
	MaxMoveATR    float64
	MinConfidence float64
}

func (c Config) withDefaults() Config {
	if c.Throttle <= 0 {
		c.Throttle = defaultThrottle
	}
	if c.MaxMoveATR <= 0 {
		c.MaxMoveATR = defaultMaxMoveATR
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	return c
}

// Update is the result of a successful trailing-stop recomputation,
// emitted as smart_trailing_update (spec §4.F step 7).
type Update struct {
	Instrument   string  `json:"instrument"`
	NewStopPrice float64 `json:"new_stop_price"`
	Algorithm    string  `json:"algorithm"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// positionState is the per-instrument trailing state: the current open
// position's stop, last emission time, and recent closes/volumes used for
// the volatility factor and significance triggers.
type positionState struct {
	open       bool
	direction  market.Direction
	entryPx    float64
	currentStop float64
	lastEmit   time.Time

	returns []float64
	lastVol *float64
	lastEMA5, lastEMA8 float64
}

// Controller is the Trailing Controller component.
type Controller struct {
	cfg Config

	mu    sync.Mutex
	state map[string]*positionState
}

// New builds a Controller.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:   cfg.withDefaults(),
		state: make(map[string]*positionState),
	}
}

// OpenPosition registers instrument as having an open position to trail,
// with its initial stop.
func (c *Controller) OpenPosition(instrument string, direction market.Direction, entryPx, initialStop float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[instrument] = &positionState{
		open:        true,
		direction:   direction,
		entryPx:     entryPx,
		currentStop: initialStop,
	}
}

// ClosePosition stops trailing instrument (spec §4.F step 1: "If no
// position is open, do nothing" — implemented by removing state so a
// subsequent OnFrame is a no-op).
func (c *Controller) ClosePosition(instrument string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, instrument)
}

// OnFrame evaluates one market tick against the open position on
// frame.Instrument and returns an Update if one should be emitted, per the
// full pipeline in spec §4.F.
func (c *Controller) OnFrame(frame market.MarketFrame) (Update, bool) {
	c.mu.Lock()
	st, ok := c.state[frame.Instrument]
	if !ok || !st.open {
		c.mu.Unlock()
		return Update{}, false
	}

	atr := derefOr(frame.ATR, 1.0)
	price := frame.Price

	significant := c.isSignificant(st, frame, atr)
	if !significant && time.Since(st.lastEmit) < c.cfg.Throttle {
		c.mu.Unlock()
		return Update{}, false
	}

	volFactor := c.volatilityFactor(st, price)
	multiplier, reasoning := adaptiveMultiplier(frame, volFactor, st.direction, st.entryPx)

	var candidate float64
	switch st.direction {
	case market.Short:
		candidate = price + multiplier*atr
	default: // LONG
		candidate = price - multiplier*atr
	}
	candidate = snapToLevel(candidate, price, atr, st.direction, frame)

	current := st.currentStop
	c.mu.Unlock()

	if !monotonic(st.direction, current, candidate) {
		return Update{}, false
	}

	candidate = boundMovement(current, candidate, c.cfg.MaxMoveATR*atr)

	confidence := confidenceFor(frame)
	if confidence < c.cfg.MinConfidence {
		return Update{}, false
	}

	c.mu.Lock()
	st.currentStop = candidate
	st.lastEmit = time.Now()
	c.mu.Unlock()

	return Update{
		Instrument:   frame.Instrument,
		NewStopPrice: candidate,
		Algorithm:    "adaptive_atr",
		Confidence:   confidence,
		Reasoning:    reasoning,
	}, true
}

func monotonic(direction market.Direction, current, candidate float64) bool {
	if direction == market.Short {
		return candidate < current
	}
	return candidate > current
}

func boundMovement(current, candidate, maxMove float64) float64 {
	delta := candidate - current
	if delta > maxMove {
		return current + maxMove
	}
	if delta < -maxMove {
		return current - maxMove
	}
	return candidate
}

// adaptiveMultiplier implements spec §4.F step 3.
func adaptiveMultiplier(frame market.MarketFrame, volFactor float64, direction market.Direction, entryPx float64) (float64, string) {
	multiplier := baseATRMultiplier * volFactor
	reasoning := "base_atr_volatility_scaled"

	alignment := derefOr(frame.EMAAlignment, 0)
	adx := derefOr(frame.ADX, 0)
	if math.Abs(alignment) > 0.6 && adx > 0.7 {
		tightened := baseATRMultiplier * 0.8
		if tightened < multiplier {
			multiplier = tightened
			reasoning = "strong_trend_tightened"
		}
	}

	if profitPercent(direction, entryPx, frame.Price) > 3.0 {
		tightened := baseATRMultiplier * 0.8
		if tightened < multiplier {
			multiplier = tightened
			reasoning = "profit_protect_tightened"
		}
	}

	return multiplier, reasoning
}

// profitPercent returns the position's open profit as a percentage of
// entry price, signed so a favorable move is positive regardless of
// direction (spec §4.F step 3 fourth rule: "if profit_percent > 3.0%,
// tighten to 0.8*base").
func profitPercent(direction market.Direction, entryPx, price float64) float64 {
	if entryPx == 0 {
		return 0
	}
	if direction == market.Short {
		return (entryPx - price) / entryPx * 100
	}
	return (price - entryPx) / entryPx * 100
}

// snapToLevel implements spec §4.F step 3's support/resistance snap: if
// price is within 0.3*ATR of a detected level (here, the frame's high/low
// as the cheapest available proxy for support/resistance), snap the stop
// to that level with an ATR/3 buffer.
func snapToLevel(candidate, price, atr float64, direction market.Direction, frame market.MarketFrame) float64 {
	const proximity = 0.3
	const buffer = 1.0 / 3.0

	levels := make([]float64, 0, 2)
	if frame.High != nil {
		levels = append(levels, *frame.High)
	}
	if frame.Low != nil {
		levels = append(levels, *frame.Low)
	}

	for _, level := range levels {
		if math.Abs(price-level) < proximity*atr {
			if direction == market.Short {
				return level + buffer*atr
			}
			return level - buffer*atr
		}
	}
	return candidate
}

func confidenceFor(frame market.MarketFrame) float64 {
	rsi := derefOr(frame.RSI, 50)
	alignment := math.Abs(derefOr(frame.EMAAlignment, 0))
	// A simple blend: stronger trend alignment and a non-neutral RSI reading
	// both increase trailing confidence.
	confidence := 0.5 + 0.3*alignment + 0.1*(math.Abs(rsi-50)/50)
	return clamp01(confidence)
}

// isSignificant reports whether a significance trigger fires, allowing an
// update even within the throttle window (spec §4.F step 2).
func (c *Controller) isSignificant(st *positionState, frame market.MarketFrame, atr float64) bool {
	move := frame.Price - st.entryPx
	if st.direction == market.Short {
		move = -move
	}
	moveFavorable := move >= significanceATR*atr

	volumeSpike := false
	if v := frame.Volume; v != nil {
		if st.lastVol != nil && *st.lastVol > 0 && *v > volumeSpikeFactor**st.lastVol {
			volumeSpike = true
		}
		st.lastVol = v
	}

	emaCross := false
	if frame.EMA5 != nil && frame.EMA8 != nil {
		crossedUp := st.lastEMA5 <= st.lastEMA8 && *frame.EMA5 > *frame.EMA8
		crossedDown := st.lastEMA5 >= st.lastEMA8 && *frame.EMA5 < *frame.EMA8
		emaCross = crossedUp || crossedDown
		st.lastEMA5, st.lastEMA8 = *frame.EMA5, *frame.EMA8
	}

	return moveFavorable || volumeSpike || emaCross
}

// volatilityFactor scales the base ATR multiplier by the stddev of recent
// returns, clamped to [0.8, 1.6] (spec §4.F step 3), using
// gonum.org/v1/gonum/stat the way the broader retrieval pack uses gonum
// for quantitative scaling.
func (c *Controller) volatilityFactor(st *positionState, price float64) float64 {
	if price > 0 {
		st.returns = append(st.returns, price)
	}
	const window = 20
	if len(st.returns) > window {
		st.returns = st.returns[len(st.returns)-window:]
	}
	if len(st.returns) < 3 {
		return 1.0
	}

	rets := make([]float64, 0, len(st.returns)-1)
	for i := 1; i < len(st.returns); i++ {
		prev := st.returns[i-1]
		if prev == 0 {
			continue
		}
		rets = append(rets, (st.returns[i]-prev)/prev)
	}
	if len(rets) < 2 {
		return 1.0
	}

	sd := stat.StdDev(rets, nil)
	// Map a typical 0-2% return stddev onto the [0.8, 1.6] band.
	factor := 0.8 + (sd/0.02)*0.8
	if factor < 0.8 {
		factor = 0.8
	}
	if factor > 1.6 {
		factor = 1.6
	}
	return factor
}

func derefOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
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

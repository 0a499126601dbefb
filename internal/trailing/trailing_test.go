package trailing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradebridge/internal/market"
)

func f64(v float64) *float64 { return &v }

func TestOnFrame_NoPosition_NoUpdate(t *testing.T) {
	c := New(Config{})
	_, ok := c.OnFrame(market.MarketFrame{Instrument: "ES 03-25", Price: 100, ATR: f64(10)})
	assert.False(t, ok)
}

func TestOnFrame_MonotonicityEnforced(t *testing.T) {
	c := New(Config{MinConfidence: 0.01, Throttle: time.Nanosecond})
	c.OpenPosition("ES 03-25", market.Long, 21500, 21495)

	// First tick: a favorable move pushes the stop up.
	update, ok := c.OnFrame(market.MarketFrame{
		Instrument: "ES 03-25", Price: 21512, ATR: f64(10),
		EMAAlignment: f64(0.2), RSI: f64(60),
	})
	require.True(t, ok)
	assert.Greater(t, update.NewStopPrice, 21495.0)

	firstStop := update.NewStopPrice

	// Second tick: a price that would compute a lower stop must be rejected.
	_, ok = c.OnFrame(market.MarketFrame{
		Instrument: "ES 03-25", Price: 21496, ATR: f64(10),
		EMAAlignment: f64(0.2), RSI: f64(60),
	})
	assert.False(t, ok)

	assert.Equal(t, firstStop, c.state["ES 03-25"].currentStop)
}

func TestOnFrame_BoundedMovement(t *testing.T) {
	c := New(Config{MinConfidence: 0.01, Throttle: 0, MaxMoveATR: 0.1})
	c.OpenPosition("ES 03-25", market.Long, 21500, 21495)

	update, ok := c.OnFrame(market.MarketFrame{
		Instrument: "ES 03-25", Price: 21600, ATR: f64(10),
		EMAAlignment: f64(0.9), RSI: f64(80), ADX: f64(0.9),
	})
	require.True(t, ok)
	// max move = 0.1 * ATR(10) = 1.0
	assert.LessOrEqual(t, update.NewStopPrice-21495.0, 1.0001)
}

func TestOnFrame_LowConfidenceDropsUpdate(t *testing.T) {
	c := New(Config{MinConfidence: 0.99, Throttle: 0})
	c.OpenPosition("ES 03-25", market.Long, 21500, 21495)

	_, ok := c.OnFrame(market.MarketFrame{Instrument: "ES 03-25", Price: 21512, ATR: f64(10)})
	assert.False(t, ok)
}

func TestClosePosition_StopsTrailing(t *testing.T) {
	c := New(Config{})
	c.OpenPosition("ES 03-25", market.Long, 21500, 21495)
	c.ClosePosition("ES 03-25")

	_, ok := c.OnFrame(market.MarketFrame{Instrument: "ES 03-25", Price: 21510, ATR: f64(10)})
	assert.False(t, ok)
}

func TestMonotonic_ShortDirection(t *testing.T) {
	assert.True(t, monotonic(market.Short, 100, 95))
	assert.False(t, monotonic(market.Short, 100, 105))
}

package trademanager

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradebridge/internal/market"
)

type fakeAlerts struct {
	events []struct {
		channel string
		payload any
	}
}

func (f *fakeAlerts) TradeEvent(channel string, payload any) {
	f.events = append(f.events, struct {
		channel string
		payload any
	}{channel, payload})
}

func newTestManager() (*Manager, *fakeAlerts) {
	alerts := &fakeAlerts{}
	return New(zerolog.Nop(), alerts, market.NewPointValueTable(map[string]float64{"ES 03-25": 50})), alerts
}

func TestEnterTrade_ValidatesLongOrdering(t *testing.T) {
	mgr, _ := newTestManager()

	result := mgr.EnterTrade(EnterTradeRequest{
		Instrument: "ES 03-25", Direction: market.Long, Qty: 1,
		EntryPx: 100, StopPx: 105, TargetPx: 110, Source: market.SourceAuto,
	})
	assert.False(t, result.OK)
	assert.NotNil(t, result.Err)
}

func TestEnterTrade_SetsStatusPending(t *testing.T) {
	mgr, _ := newTestManager()

	result := mgr.EnterTrade(EnterTradeRequest{
		Instrument: "ES 03-25", Direction: market.Long, Qty: 1,
		EntryPx: 100, StopPx: 95, TargetPx: 110, Source: market.SourceAuto,
	})
	require.True(t, result.OK)

	active := mgr.ActiveTrades("ES 03-25")
	require.Len(t, active, 1)
	assert.Equal(t, market.StatusPending, active[0].Status)
}

func TestTradeIDs_AreUnique(t *testing.T) {
	seen := make(map[string]bool)
	now := time.Now()
	for i := 0; i < 500; i++ {
		id, err := NewTradeID(market.SourceAuto, market.Long, now)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate trade id: %s", id)
		seen[id] = true
	}
}

func TestOnExecution_FillsThenClosesWithPnl(t *testing.T) {
	mgr, _ := newTestManager()

	result := mgr.EnterTrade(EnterTradeRequest{
		Instrument: "ES 03-25", Direction: market.Long, Qty: 2,
		EntryPx: 100, StopPx: 95, TargetPx: 110, Source: market.SourceAuto,
	})
	require.True(t, result.OK)

	mgr.OnExecution("ES 03-25", "", 100, "entry_fill")
	active := mgr.ActiveTrades("ES 03-25")
	require.Len(t, active, 1)
	assert.Equal(t, market.StatusFilled, active[0].Status)

	mgr.OnExecution("ES 03-25", "", 110, "target_hit")
	active = mgr.ActiveTrades("ES 03-25")
	assert.Empty(t, active) // CLOSED trades are no longer "active"

	// (110 - 100) * qty 2 * point value 50
	closed := mgr.stateFor("ES 03-25").trades[result.TradeID]
	require.NotNil(t, closed.Pnl)
	assert.Equal(t, 1000.0, *closed.Pnl)
}

func TestComputePnl_LongAndShort(t *testing.T) {
	longTrade := &market.Trade{Direction: market.Long, EntryPx: 100, Qty: 2}
	assert.Equal(t, 100.0, computePnl(longTrade, 110, 5))

	shortTrade := &market.Trade{Direction: market.Short, EntryPx: 100, Qty: 2}
	assert.Equal(t, 100.0, computePnl(shortTrade, 90, 5))
}

func TestReconcile_RaisesAlertThenHealsAfterWindow(t *testing.T) {
	mgr, alerts := newTestManager()
	mgr.UpdateBridgeShadow("ES 03-25", market.Position{Direction: market.Long, Size: 1})

	mgr.Reconcile("ES 03-25", market.Position{Direction: market.Flat, Size: 0})
	assert.Len(t, alerts.events, 1)
	assert.Equal(t, market.ChannelSystemAlert, alerts.events[0].channel)

	// Within the reconciliation window: no further action yet.
	mgr.Reconcile("ES 03-25", market.Position{Direction: market.Flat, Size: 0})
	assert.Len(t, alerts.events, 1)

	// Past the window: the third attempt overwrites the Bridge shadow.
	st := mgr.stateFor("ES 03-25")
	st.mu.Lock()
	st.discrepancySince = time.Now().Add(-2 * reconciliationWindow)
	st.mu.Unlock()
	for i := 0; i < maxReconciliationAttempts; i++ {
		mgr.Reconcile("ES 03-25", market.Position{Direction: market.Flat, Size: 0})
	}
	assert.Equal(t, market.Flat, mgr.BridgeShadow("ES 03-25").Direction)
	require.Len(t, alerts.events, 2)
	assert.Equal(t, "position_reconciled", alerts.events[1].payload.(map[string]any)["type"])
}

func TestTradeTermination_DoesNotAffectOtherInstruments(t *testing.T) {
	mgr, _ := newTestManager()

	r1 := mgr.EnterTrade(EnterTradeRequest{Instrument: "ES 03-25", Direction: market.Long, Qty: 1, EntryPx: 100, StopPx: 95, TargetPx: 110, Source: market.SourceAuto})
	r2 := mgr.EnterTrade(EnterTradeRequest{Instrument: "NQ 03-25", Direction: market.Long, Qty: 1, EntryPx: 200, StopPx: 190, TargetPx: 220, Source: market.SourceAuto})
	require.True(t, r1.OK)
	require.True(t, r2.OK)

	mgr.OnExecution("ES 03-25", "", 100, "fill")
	mgr.OnExecution("ES 03-25", "", 110, "target")

	nqActive := mgr.ActiveTrades("NQ 03-25")
	require.Len(t, nqActive, 1)
	assert.Equal(t, market.StatusPending, nqActive[0].Status)
}

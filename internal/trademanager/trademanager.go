// Package trademanager implements the Trade Manager (spec §4.E): trade id
// minting, the per-instrument-locked lifecycle state machine, position
// reconciliation, and pnl computation.
package trademanager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradebridge/internal/bridgeerr"
	"github.com/aristath/tradebridge/internal/market"
)

// EnterTradeRequest is the input to EnterTrade.
type EnterTradeRequest struct {
	Instrument string
	Direction  market.Direction
	Qty        float64
	EntryPx    float64
	StopPx     float64
	TargetPx   float64
	Source     market.Source
}

// EnterTradeResult is the outcome of EnterTrade.
type EnterTradeResult struct {
	OK      bool
	TradeID string
	Err     *bridgeerr.Error
}

// AlertSink receives lifecycle and discrepancy alerts the Supervisor fans
// out as system_alert / trade_execution events (spec §4.E, §3). A narrow
// interface, per spec §9's inversion-of-ownership note: the Trade Manager
// never holds a back-reference to the Supervisor.
type AlertSink interface {
	TradeEvent(channel string, payload any)
}

const reconciliationWindow = 3 * time.Second
const maxReconciliationAttempts = 3
const pendingFailTimeout = 10 * time.Second
const positionEps = 1e-9

// instrumentState holds everything the Trade Manager tracks for one
// instrument, guarded by its own lock so cross-instrument progress is
// independent (spec §4.E: "Transitions are serialized per instrument
// under a single lock").
type instrumentState struct {
	mu sync.Mutex

	trades map[string]*market.Trade

	hostShadow   market.Position
	bridgeShadow market.Position

	discrepancySince    time.Time
	reconcileAttempts   int
	discrepancyOpen     bool
	lastReconcileAt     time.Time
}

// Manager is the Trade Manager component.
type Manager struct {
	log    zerolog.Logger
	alerts AlertSink
	points *market.PointValueTable

	mu         sync.Mutex
	instrument map[string]*instrumentState
}

// New builds a Manager.
func New(log zerolog.Logger, alerts AlertSink, points *market.PointValueTable) *Manager {
	if points == nil {
		points = market.NewPointValueTable(nil)
	}
	return &Manager{
		log:        log.With().Str("component", "trade_manager").Logger(),
		alerts:     alerts,
		points:     points,
		instrument: make(map[string]*instrumentState),
	}
}

func (m *Manager) stateFor(instrument string) *instrumentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.instrument[instrument]
	if !ok {
		st = &instrumentState{trades: make(map[string]*market.Trade)}
		m.instrument[instrument] = st
	}
	return st
}

// NewTradeID mints a trade id formatted <source>_<direction>_<HHMMSS>_<6-hex>,
// globally unique within the process lifetime (spec §3).
func NewTradeID(source market.Source, direction market.Direction, now time.Time) (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("trademanager: generate trade id suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s_%s", source, direction, now.Format("150405"), hex.EncodeToString(buf[:])), nil
}

// EnterTrade validates req against the §3 Trade invariants, mints a trade
// id, and records it PENDING. Sending the resulting command frame to the
// owning HostSession is the Supervisor's responsibility (spec §4.E: "emits
// a command frame to the owning HostSession" — done by the caller using
// the returned trade id).
func (m *Manager) EnterTrade(req EnterTradeRequest) EnterTradeResult {
	if err := validateEntry(req); err != nil {
		return EnterTradeResult{OK: false, Err: err}
	}

	id, err := NewTradeID(req.Source, req.Direction, time.Now())
	if err != nil {
		return EnterTradeResult{OK: false, Err: bridgeerr.New(bridgeerr.Fatal, "trademanager.EnterTrade", err)}
	}

	st := m.stateFor(req.Instrument)
	st.mu.Lock()
	st.trades[id] = &market.Trade{
		ID:         id,
		Instrument: req.Instrument,
		Direction:  req.Direction,
		Qty:        req.Qty,
		EntryPx:    req.EntryPx,
		StopPx:     req.StopPx,
		TargetPx:   req.TargetPx,
		Source:     req.Source,
		Status:     market.StatusPending,
		CreatedAt:  time.Now(),
	}
	st.mu.Unlock()

	return EnterTradeResult{OK: true, TradeID: id}
}

func validateEntry(req EnterTradeRequest) *bridgeerr.Error {
	if req.Qty <= 0 {
		return bridgeerr.Validationf("trademanager.EnterTrade", "qty must be > 0, got %v", req.Qty)
	}
	switch req.Direction {
	case market.Long:
		if !(req.StopPx == 0 || req.TargetPx == 0) {
			if !(req.StopPx < req.EntryPx && req.EntryPx < req.TargetPx) {
				return bridgeerr.Validationf("trademanager.EnterTrade", "LONG requires stop < entry < target")
			}
		}
	case market.Short:
		if !(req.StopPx == 0 || req.TargetPx == 0) {
			if !(req.StopPx > req.EntryPx && req.EntryPx > req.TargetPx) {
				return bridgeerr.Validationf("trademanager.EnterTrade", "SHORT requires stop > entry > target")
			}
		}
	default:
		return bridgeerr.Validationf("trademanager.EnterTrade", "direction must be LONG or SHORT")
	}
	return nil
}

// OnExecution matches an open Trade by order_id, else by price proximity,
// and drives the PENDING->FILLED or FILLED->CLOSED transition (spec §4.E).
func (m *Manager) OnExecution(instrument, orderID string, price float64, reason string) {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	trade := findTrade(st.trades, orderID, price)
	if trade == nil {
		m.log.Debug().Str("instrument", instrument).Str("order_id", orderID).Msg("execution with no matching trade")
		return
	}
	trade.OrderID = orderID

	switch trade.Status {
	case market.StatusPending:
		trade.Status = market.StatusFilled
		m.alerts.TradeEvent(market.ChannelTradeExecution, tradeSnapshot(trade, "filled"))
	case market.StatusFilled:
		now := time.Now()
		trade.Status = market.StatusClosed
		trade.ExitedAt = &now
		exitPx := price
		trade.ExitPx = &exitPx
		trade.ExitReason = reason
		pnl := computePnl(trade, exitPx, m.points.Get(instrument))
		trade.Pnl = &pnl
		m.alerts.TradeEvent(market.ChannelTradeExecution, tradeSnapshot(trade, "closed"))
	default:
		// Already terminal; per spec §4.E a closed/failed/cancelled trade must
		// never affect the rest of the bridge, so a stray late execution is
		// simply logged.
		m.log.Debug().Str("trade_id", trade.ID).Str("status", string(trade.Status)).Msg("execution for terminal trade ignored")
	}
}

func findTrade(trades map[string]*market.Trade, orderID string, price float64) *market.Trade {
	if orderID != "" {
		for _, t := range trades {
			if t.OrderID == orderID {
				return t
			}
		}
	}
	const tolerance = 0.5
	for _, t := range trades {
		if t.Status == market.StatusClosed || t.Status == market.StatusFailed || t.Status == market.StatusCancelled {
			continue
		}
		if math.Abs(price-t.EntryPx) < tolerance || math.Abs(price-t.StopPx) < tolerance || math.Abs(price-t.TargetPx) < tolerance {
			return t
		}
	}
	return nil
}

func computePnl(t *market.Trade, exitPx, pointValue float64) float64 {
	switch t.Direction {
	case market.Short:
		return (t.EntryPx - exitPx) * t.Qty * pointValue
	default: // LONG
		return (exitPx - t.EntryPx) * t.Qty * pointValue
	}
}

func tradeSnapshot(t *market.Trade, event string) map[string]any {
	return map[string]any{
		"event":            event,
		"trade_id":         t.ID,
		"instrument":       t.Instrument,
		"status":           t.Status,
		"pnl":              t.Pnl,
		"strategy_action":  "CONTINUE_OPERATION",
	}
}

// Cancel transitions a PENDING trade to CANCELLED (spec §5: cancelled
// entries not yet sent to the Host become CANCELLED).
func (m *Manager) Cancel(instrument, tradeID string) {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()
	if t, ok := st.trades[tradeID]; ok && t.Status == market.StatusPending {
		t.Status = market.StatusCancelled
		m.alerts.TradeEvent(market.ChannelTradeExecution, tradeSnapshot(t, "cancelled"))
	}
}

// ExpirePending fails any PENDING trade older than pendingFailTimeout with
// no execution, per spec §5: "those already sent become FAILED if no
// execution arrives within 10 s." Intended to be called periodically by
// the Supervisor's maintenance loop.
func (m *Manager) ExpirePending(instrument string) {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, t := range st.trades {
		if t.Status == market.StatusPending && time.Since(t.CreatedAt) > pendingFailTimeout {
			t.Status = market.StatusFailed
			m.alerts.TradeEvent(market.ChannelTradeExecution, tradeSnapshot(t, "failed"))
		}
	}
}

// ActiveTrades returns all non-terminal trades for instrument.
func (m *Manager) ActiveTrades(instrument string) []market.Trade {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]market.Trade, 0, len(st.trades))
	for _, t := range st.trades {
		if t.Status != market.StatusClosed && t.Status != market.StatusFailed && t.Status != market.StatusCancelled {
			out = append(out, *t)
		}
	}
	return out
}

// Reconcile compares the Host-reported position against the Bridge shadow
// and applies the §3 reconciliation rule: the first mismatch raises a
// discrepancy alert at once; once the mismatch has lasted beyond the
// reconciliation window, each further call counts an attempt, and the R=3rd
// attempt overwrites the Bridge shadow from the Host shadow.
func (m *Manager) Reconcile(instrument string, hostPosition market.Position) {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastReconcileAt = time.Now()
	st.hostShadow = hostPosition

	if st.hostShadow.Equal(st.bridgeShadow, positionEps) {
		if st.discrepancyOpen {
			st.discrepancyOpen = false
			st.reconcileAttempts = 0
			m.alerts.TradeEvent(market.ChannelSystemAlert, map[string]any{
				"type":       "position_reconciled",
				"instrument": instrument,
			})
		}
		return
	}

	if !st.discrepancyOpen {
		st.discrepancyOpen = true
		st.discrepancySince = time.Now()
		m.alerts.TradeEvent(market.ChannelSystemAlert, map[string]any{
			"type":       "position_discrepancy",
			"instrument": instrument,
			"host":       st.hostShadow,
			"bridge":     st.bridgeShadow,
		})
		return
	}

	if time.Since(st.discrepancySince) < reconciliationWindow {
		return
	}

	st.reconcileAttempts++
	if st.reconcileAttempts >= maxReconciliationAttempts {
		st.bridgeShadow = st.hostShadow
		st.discrepancyOpen = false
		st.reconcileAttempts = 0
		m.alerts.TradeEvent(market.ChannelSystemAlert, map[string]any{
			"type":       "position_reconciled",
			"instrument": instrument,
		})
	}
}

// ActiveTradeCount returns the total number of non-terminal trades across
// every instrument the Trade Manager has seen, surfaced on GET /metrics
// (spec §4.H: "active trades").
func (m *Manager) ActiveTradeCount() int {
	m.mu.Lock()
	instruments := make([]*instrumentState, 0, len(m.instrument))
	for _, st := range m.instrument {
		instruments = append(instruments, st)
	}
	m.mu.Unlock()

	total := 0
	for _, st := range instruments {
		st.mu.Lock()
		for _, t := range st.trades {
			if t.Status != market.StatusClosed && t.Status != market.StatusFailed && t.Status != market.StatusCancelled {
				total++
			}
		}
		st.mu.Unlock()
	}
	return total
}

// ReconciliationAges returns, per instrument, the time elapsed since
// Reconcile was last called — surfaced on GET /metrics (spec §4.H: "last
// reconciliation ages"). An instrument never reconciled is omitted.
func (m *Manager) ReconciliationAges() map[string]time.Duration {
	m.mu.Lock()
	snapshot := make(map[string]*instrumentState, len(m.instrument))
	for instrument, st := range m.instrument {
		snapshot[instrument] = st
	}
	m.mu.Unlock()

	ages := make(map[string]time.Duration, len(snapshot))
	for instrument, st := range snapshot {
		st.mu.Lock()
		last := st.lastReconcileAt
		st.mu.Unlock()
		if !last.IsZero() {
			ages[instrument] = time.Since(last)
		}
	}
	return ages
}

// BridgeShadow returns the current Bridge-derived position for instrument.
func (m *Manager) BridgeShadow(instrument string) market.Position {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.bridgeShadow
}

// UpdateBridgeShadow is called by the Supervisor after a Trade fill/close
// changes the Bridge's derived position for instrument.
func (m *Manager) UpdateBridgeShadow(instrument string, p market.Position) {
	st := m.stateFor(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.bridgeShadow = p
}

package supervisor

import (
	"github.com/aristath/tradebridge/internal/market"
	"github.com/aristath/tradebridge/internal/trademanager"
)

// TradeEvent implements trademanager.AlertSink: fan trade/alert payloads
// out to Dashboard subscribers on the given channel.
func (s *Supervisor) TradeEvent(channel string, payload any) {
	s.hub.Emit(channel, payload)
}

// BroadcastSettings implements settings.Broadcaster (spec §4.G: "broadcast
// current_settings to all Subscribers").
func (s *Supervisor) BroadcastSettings(effective market.Settings) {
	s.hub.Emit(market.ChannelCurrentSettings, effective)
}

// GetSettings implements subscriberhub.RPCHandler.
func (s *Supervisor) GetSettings() market.Settings {
	return s.settings.Get()
}

// UpdateSettings implements subscriberhub.RPCHandler.
func (s *Supervisor) UpdateSettings(patch map[string]any) (market.Settings, error) {
	return s.settings.Update(patch)
}

// ManualTrade implements subscriberhub.RPCHandler: routes a Dashboard
// manual_trade RPC to the Trade Manager, enforcing the instrument guard
// (spec §8 S4: an instrument with no registered Host session must be
// rejected with {success:false, reason:"no host for instrument"}).
func (s *Supervisor) ManualTrade(payload map[string]any) (bool, string) {
	instrument, _ := payload["instrument"].(string)
	if instrument == "" {
		return false, "missing instrument"
	}

	s.mu.Lock()
	session, ok := s.sessionByInstrument[instrument]
	s.mu.Unlock()
	if !ok {
		return false, "no host for instrument"
	}

	direction := market.Direction(stringField(payload, "command", ""))
	switch direction {
	case "go_long":
		direction = market.Long
	case "go_short":
		direction = market.Short
	}

	req := trademanager.EnterTradeRequest{
		Instrument: instrument,
		Direction:  direction,
		Qty:        floatField(payload, "quantity", 1),
		EntryPx:    floatField(payload, "price", 0),
		StopPx:     floatField(payload, "stop_loss", 0),
		TargetPx:   floatField(payload, "target", 0),
		Source:     market.SourceManual,
	}
	result := s.trades.EnterTrade(req)
	if !result.OK {
		reason := "validation failed"
		if result.Err != nil {
			reason = result.Err.Error()
		}
		return false, reason
	}

	_ = session.Send(map[string]any{
		"type":       "command",
		"instrument": instrument,
		"command":    stringField(payload, "command", ""),
		"quantity":   req.Qty,
		"price":      req.EntryPx,
		"stop_loss":  req.StopPx,
		"target":     req.TargetPx,
		"reason":     "manual_trade",
		"trade_id":   result.TradeID,
	})
	return true, ""
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return fallback
}

func floatField(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return fallback
}

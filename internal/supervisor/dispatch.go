package supervisor

import (
	"context"
	"time"

	"github.com/aristath/tradebridge/internal/hostsession"
	"github.com/aristath/tradebridge/internal/market"
	"github.com/aristath/tradebridge/internal/trademanager"
	"github.com/aristath/tradebridge/internal/trailing"
)

// OnInstrumentRegistration implements hostsession.Dispatcher.
func (s *Supervisor) OnInstrumentRegistration(session *hostsession.Session, instrument string) {
	s.mu.Lock()
	s.sessionByInstrument[instrument] = session
	s.mu.Unlock()
	s.log.Info().Str("instrument", instrument).Str("session_id", session.ID).Msg("instrument registered")
}

// OnMarketData implements hostsession.Dispatcher: routes to the Prediction
// Gateway and Trailing Controller, then re-emits on market_data (spec §4.B).
func (s *Supervisor) OnMarketData(session *hostsession.Session, frame market.MarketFrame) {
	s.hub.Emit(market.ChannelMarketData, frame)

	if update, ok := s.trailingC.OnFrame(frame); ok {
		s.emitTrailingUpdate(session, update)
	}

	s.inFlightPredictions.Add(1)
	go func() {
		defer s.inFlightPredictions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
		defer cancel()
		p := s.gateway.Predict(ctx, frame.Instrument, frame)
		s.hub.Emit(market.ChannelMLPredictionResult, p)
		s.maybeAutoTrade(session, frame, p)
		if s.durable != nil {
			_ = s.durable.Append(ctx, "prediction", p)
		}
	}()
}

func (s *Supervisor) emitTrailingUpdate(session *hostsession.Session, update trailing.Update) {
	_ = session.Send(map[string]any{
		"type":           hostsession.TypeSmartTrailingResponse,
		"instrument":     update.Instrument,
		"new_stop_price": update.NewStopPrice,
		"algorithm":      update.Algorithm,
		"confidence":     update.Confidence,
		"reasoning":      update.Reasoning,
	})
}

// maybeAutoTrade applies the Supervisor-side auto-trade gate (spec §4.G):
// auto_trading_enabled AND confidence > min_confidence AND direction is
// directional.
func (s *Supervisor) maybeAutoTrade(session *hostsession.Session, frame market.MarketFrame, p market.Prediction) {
	st := s.settings.Get()
	if !st.AutoTradingEnabled {
		return
	}
	if p.Confidence <= st.MinConfidence {
		return
	}
	if p.Direction != market.Long && p.Direction != market.Short {
		return
	}

	atr := 1.0
	if frame.ATR != nil {
		atr = *frame.ATR
	}
	var stop, target float64
	var command string
	if p.Direction == market.Long {
		command = "go_long"
		stop = frame.Price - atr
		target = frame.Price + 2*atr
	} else {
		command = "go_short"
		stop = frame.Price + atr
		target = frame.Price - 2*atr
	}

	result := s.trades.EnterTrade(trademanager.EnterTradeRequest{
		Instrument: frame.Instrument,
		Direction:  p.Direction,
		Qty:        1,
		EntryPx:    frame.Price,
		StopPx:     stop,
		TargetPx:   target,
		Source:     market.SourceAuto,
	})
	if !result.OK {
		s.log.Warn().Str("instrument", frame.Instrument).Msg("auto trade entry rejected")
		return
	}

	_ = session.Send(map[string]any{
		"type":       hostsession.TypeCommand,
		"instrument": frame.Instrument,
		"command":    command,
		"quantity":   1,
		"price":      frame.Price,
		"stop_loss":  stop,
		"target":     target,
		"reason":     "auto_trade",
		"trade_id":   result.TradeID,
	})
}

// OnStrategyStatus implements hostsession.Dispatcher.
func (s *Supervisor) OnStrategyStatus(session *hostsession.Session, instrument string, payload map[string]any) {
	s.hub.Emit(market.ChannelStrategyStatus, payload)

	pos := positionFromPayload(payload)
	s.trades.Reconcile(instrument, pos)

	if s.markFirstStatus(session.ID) {
		s.hub.Emit(market.ChannelConnectionStatus, map[string]any{"status": "connected", "instrument": instrument})
	}
}

func positionFromPayload(payload map[string]any) market.Position {
	var pos market.Position
	if d, ok := payload["direction"].(string); ok {
		pos.Direction = market.Direction(d)
	} else {
		pos.Direction = market.Flat
	}
	if sz, ok := payload["size"].(float64); ok {
		pos.Size = sz
	}
	if ap, ok := payload["avg_price"].(float64); ok {
		pos.AvgPrice = ap
	}
	pos.LastUpdate = time.Now()
	return pos
}

// OnTradeExecution implements hostsession.Dispatcher.
func (s *Supervisor) OnTradeExecution(session *hostsession.Session, instrument string, payload map[string]any) {
	orderID, _ := payload["order_id"].(string)
	price, _ := payload["price"].(float64)
	reason, _ := payload["reason"].(string)
	s.trades.OnExecution(instrument, orderID, price, reason)
}

// OnMLPredictionRequest implements hostsession.Dispatcher: synchronous
// reply on the same session (spec §4.B).
func (s *Supervisor) OnMLPredictionRequest(session *hostsession.Session, instrument, requestID string, frame market.MarketFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	p := s.gateway.Predict(ctx, instrument, frame)
	_ = session.Send(map[string]any{
		"type":       hostsession.TypeMLPredictionResponse,
		"instrument": instrument,
		"request_id": requestID,
		"prediction": p,
	})
}

// OnSmartTrailingRequest implements hostsession.Dispatcher.
func (s *Supervisor) OnSmartTrailingRequest(session *hostsession.Session, instrument, requestID string, payload map[string]any) {
	update, ok := s.trailingC.OnFrame(market.MarketFrame{Instrument: instrument, Price: priceFromPayload(payload)})
	resp := map[string]any{
		"type":       hostsession.TypeSmartTrailingResponse,
		"instrument": instrument,
		"request_id": requestID,
	}
	if ok {
		resp["new_stop_price"] = update.NewStopPrice
		resp["algorithm"] = update.Algorithm
		resp["confidence"] = update.Confidence
		resp["reasoning"] = update.Reasoning
	}
	_ = session.Send(resp)
}

func priceFromPayload(payload map[string]any) float64 {
	if p, ok := payload["price"].(float64); ok {
		return p
	}
	return 0
}

// OnSessionClosed implements hostsession.Dispatcher.
func (s *Supervisor) OnSessionClosed(session *hostsession.Session, reason string) {
	s.mu.Lock()
	delete(s.sessions, session.ID)
	for instrument, sess := range s.sessionByInstrument {
		if sess.ID == session.ID {
			delete(s.sessionByInstrument, instrument)
		}
	}
	s.mu.Unlock()

	s.hub.Emit(market.ChannelConnectionStatus, map[string]any{"status": "disconnected", "reason": reason})
}

// markFirstStatus reports whether this is the first strategy_status seen
// on session, so OnStrategyStatus can emit connection_status:connected
// exactly once per session (spec §4.B: "re-emit ... and (first time)
// connection_status:connected").
func (s *Supervisor) markFirstStatus(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusSeen == nil {
		s.statusSeen = make(map[string]bool)
	}
	if s.statusSeen[sessionID] {
		return false
	}
	s.statusSeen[sessionID] = true
	return true
}

// Package hostsession implements the Host Session component (spec §4.B):
// one Execution Host connection, message-type dispatch, the instrument
// guard, and heartbeat/protocol-abuse enforcement.
package hostsession

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradebridge/internal/codec"
	"github.com/aristath/tradebridge/internal/market"
)

// Inbound frame type names (spec §4.B, §6).
const (
	TypeInstrumentRegistration = "instrument_registration"
	TypeMarketData             = "market_data"
	TypeStrategyStatus         = "strategy_status"
	TypeTradeExecution         = "trade_execution"
	TypeExecutionUpdate        = "execution_update"
	TypeMLPredictionRequest    = "ml_prediction_request"
	TypeSmartTrailingRequest   = "smart_trailing_request"
	TypeHeartbeat              = "heartbeat"
	TypePing                   = "ping"
)

// Outbound frame type names (spec §6).
const (
	TypeMLPredictionResponse  = "ml_prediction_response"
	TypeSmartTrailingResponse = "smart_trailing_response"
	TypeCommand               = "command"
	TypeHeartbeatResponse     = "heartbeat_response"
)

const maxConsecutiveErrors = 50
const heartbeatTimeoutDefault = 30 * time.Second

// inboundEnvelope is the minimal shape needed to classify a frame before
// handing it to a typed handler.
type inboundEnvelope struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
	RequestID  string `json:"request_id"`
}

// Dispatcher routes classified frames to the rest of the bridge. The
// Supervisor implements this so Host Session never holds a direct
// reference to the Prediction Gateway, Trade Manager, etc. (spec §9
// inversion-of-ownership note).
type Dispatcher interface {
	OnInstrumentRegistration(session *Session, instrument string)
	OnMarketData(session *Session, frame market.MarketFrame)
	OnStrategyStatus(session *Session, instrument string, payload map[string]any)
	OnTradeExecution(session *Session, instrument string, payload map[string]any)
	OnMLPredictionRequest(session *Session, instrument string, requestID string, frame market.MarketFrame)
	OnSmartTrailingRequest(session *Session, instrument string, requestID string, payload map[string]any)
	OnSessionClosed(session *Session, reason string)
}

// Session is one Execution Host TCP connection.
type Session struct {
	ID         string
	log        zerolog.Logger
	conn       net.Conn
	reader     *codec.Reader
	writer     *codec.Writer
	dispatcher Dispatcher

	heartbeatTimeout time.Duration

	mu           sync.Mutex
	instruments  map[string]bool
	lastSeen     time.Time
	closed       bool
	errorCount   int
	firstConnect bool
}

// New builds a Session around conn, ready for Start.
func New(conn net.Conn, log zerolog.Logger, dispatcher Dispatcher, heartbeatTimeout time.Duration) *Session {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = heartbeatTimeoutDefault
	}
	id := uuid.NewString()
	return &Session{
		ID:               id,
		log:              log.With().Str("component", "host_session").Str("session_id", id).Logger(),
		conn:             conn,
		reader:           codec.NewReader(conn),
		writer:           codec.NewWriter(conn),
		dispatcher:       dispatcher,
		heartbeatTimeout: heartbeatTimeout,
		instruments:      make(map[string]bool),
		lastSeen:         time.Now(),
	}
}

// Start begins the read loop; it blocks until the connection closes or an
// unrecoverable error occurs, and is intended to run in its own goroutine.
func (s *Session) Start() {
	go s.heartbeatWatch()

	for {
		raw, err := s.reader.ReadFrame()
		if err != nil {
			if oversize, ok := err.(*codec.ErrOversizeFrame); ok {
				s.log.Warn().Int("bytes", oversize.Bytes).Msg("oversize frame discarded, resynchronizing")
				continue
			}
			s.Close("read_error")
			return
		}
		s.touch()
		s.handleFrame(raw)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) heartbeatWatch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		closed := s.closed
		idle := time.Since(s.lastSeen)
		s.mu.Unlock()
		if closed {
			return
		}
		if idle > s.heartbeatTimeout {
			s.log.Warn().Dur("idle", idle).Msg("host heartbeat timeout")
			s.Close("heartbeat_timeout")
			return
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.recordError("malformed json")
		return
	}
	s.mu.Lock()
	s.errorCount = 0
	s.mu.Unlock()

	switch env.Type {
	case TypeInstrumentRegistration:
		s.registerInstrument(env.Instrument)
		s.dispatcher.OnInstrumentRegistration(s, env.Instrument)

	case TypeMarketData:
		if !s.allowedInstrument(env.Instrument) {
			s.log.Debug().Str("instrument", env.Instrument).Msg("market_data for unregistered instrument, dropped")
			return
		}
		var frame market.MarketFrame
		if err := json.Unmarshal(raw, &frame); err != nil || !frame.Valid() {
			s.log.Warn().Str("instrument", env.Instrument).Msg("invalid market_data frame, dropped")
			return
		}
		s.dispatcher.OnMarketData(s, frame)

	case TypeStrategyStatus:
		if !s.allowedInstrument(env.Instrument) {
			return
		}
		payload := decodeMap(raw)
		s.dispatcher.OnStrategyStatus(s, env.Instrument, payload)

	case TypeTradeExecution, TypeExecutionUpdate:
		if !s.allowedInstrument(env.Instrument) {
			return
		}
		payload := decodeMap(raw)
		s.dispatcher.OnTradeExecution(s, env.Instrument, payload)

	case TypeMLPredictionRequest:
		if !s.allowedInstrument(env.Instrument) {
			return
		}
		var frame market.MarketFrame
		_ = json.Unmarshal(raw, &frame)
		s.dispatcher.OnMLPredictionRequest(s, env.Instrument, env.RequestID, frame)

	case TypeSmartTrailingRequest:
		if !s.allowedInstrument(env.Instrument) {
			return
		}
		payload := decodeMap(raw)
		s.dispatcher.OnSmartTrailingRequest(s, env.Instrument, env.RequestID, payload)

	case TypeHeartbeat, TypePing:
		_ = s.Send(map[string]any{
			"type":      TypeHeartbeatResponse,
			"timestamp": isoNowMs(),
		})

	default:
		s.log.Debug().Str("type", env.Type).Msg("unrecognized frame type, dropped")
	}
}

func decodeMap(raw []byte) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func (s *Session) recordError(reason string) {
	s.mu.Lock()
	s.errorCount++
	count := s.errorCount
	s.mu.Unlock()

	s.log.Warn().Str("reason", reason).Int("consecutive_errors", count).Msg("malformed frame")
	if count >= maxConsecutiveErrors {
		s.Close("protocol_abuse")
	}
}

// registerInstrument adds instrument to this session's registered set and
// resets the consecutive-error counter, matching "next prediction/command
// will flow" (spec §4.B) — a well-formed registration is itself evidence
// the stream has recovered.
func (s *Session) registerInstrument(instrument string) {
	if instrument == "" {
		return
	}
	s.mu.Lock()
	s.instruments[instrument] = true
	s.errorCount = 0
	s.mu.Unlock()
}

// allowedInstrument enforces the instrument guard (spec §4.B): inbound
// commands/status whose instrument does not match a registered instrument
// on this session are dropped.
func (s *Session) allowedInstrument(instrument string) bool {
	if instrument == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruments[instrument]
}

// Instruments returns the set of instruments registered on this session.
func (s *Session) Instruments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.instruments))
	for i := range s.instruments {
		out = append(out, i)
	}
	return out
}

// Send writes an outbound frame synchronously, serialized by the underlying
// codec Writer so concurrent senders never interleave (spec §4.A/§4.B).
func (s *Session) Send(frame map[string]any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errClosed
	}
	if _, ok := frame["strategy_action"]; !ok {
		frame["strategy_action"] = "CONTINUE_OPERATION"
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := s.writer.WriteFrame(payload); err != nil {
		s.log.Warn().Err(err).Msg("write to host failed, closing session")
		s.Close("write_error")
		return err
	}
	return nil
}

// Close idempotently tears down the session and notifies the dispatcher.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.Close()
	s.log.Info().Str("reason", reason).Msg("host session closed")
	s.dispatcher.OnSessionClosed(s, reason)
}

func isoNowMs() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

var errClosed = sessionClosedError{}

type sessionClosedError struct{}

func (sessionClosedError) Error() string { return "hostsession: session is closed" }

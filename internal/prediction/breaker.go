package prediction

import (
	"sync"
	"time"
)

// breakerState mirrors the classic circuit-breaker state machine: closed
// (calls pass through), open (calls short-circuit to the fallback), and
// half-open (a single trial call is allowed through to test recovery).
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// circuitBreaker guards the external predictor (spec §4.D step 3):
// timeout 5s per call, opens at >=30% error rate over the last 20 calls,
// half-open retry after 60s. No circuit-breaker library is present
// anywhere in the retrieval pack (see DESIGN.md), so this is hand-rolled
// using the same mutex-guarded-state-plus-timer shape the teacher uses
// for its WebSocket reconnect loop (calculateBackoff / reconnectLoop in
// internal/clients/tradernet/websocket_client.go).
type circuitBreaker struct {
	mu sync.Mutex

	state       breakerState
	openedAt    time.Time
	halfOpenAt  time.Time
	recentCalls []bool // true = error, most recent at the end; bounded to window

	window          int
	errorThreshold  float64
	retryAfter      time.Duration
	callTimeout     time.Duration
	halfOpenInFlight bool
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state:          stateClosed,
		window:         20,
		errorThreshold: 0.30,
		retryAfter:     60 * time.Second,
		callTimeout:    5 * time.Second,
	}
}

// allow reports whether a model call should be attempted right now. When
// the breaker is open but the retry timer has elapsed, it transitions to
// half-open and allows exactly one trial call through.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.retryAfter {
			b.state = stateHalfOpen
			b.halfOpenAt = time.Now()
			b.halfOpenInFlight = true
			return true
		}
		return false
	default:
		return false
	}
}

// record registers the outcome of an attempted call (err != nil counts as
// a failure; a timeout/cancellation must be recorded as a failure by the
// caller per spec §5: "Cancelled Prediction calls count as errors").
func (b *circuitBreaker) record(isError bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.halfOpenInFlight = false
		if isError {
			b.state = stateOpen
			b.openedAt = time.Now()
			b.recentCalls = nil
			return
		}
		b.state = stateClosed
		b.recentCalls = nil
		return
	}

	b.recentCalls = append(b.recentCalls, isError)
	if len(b.recentCalls) > b.window {
		b.recentCalls = b.recentCalls[len(b.recentCalls)-b.window:]
	}
	if len(b.recentCalls) < b.window {
		return
	}

	errCount := 0
	for _, e := range b.recentCalls {
		if e {
			errCount++
		}
	}
	if float64(errCount)/float64(len(b.recentCalls)) >= b.errorThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// Open reports whether the breaker is currently open (for /health).
func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen
}

// StateString returns a human-readable state name.
func (b *circuitBreaker) StateString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func (b *circuitBreaker) timeout() time.Duration {
	return b.callTimeout
}

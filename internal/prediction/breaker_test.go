package prediction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	b := newCircuitBreaker()
	assert.False(t, b.Open())
	assert.True(t, b.allow())
}

func TestCircuitBreaker_OpensAtErrorThreshold(t *testing.T) {
	b := newCircuitBreaker()
	// window=20, threshold=0.30: 6 errors out of 20 calls trips it.
	for i := 0; i < 14; i++ {
		b.allow()
		b.record(false)
	}
	for i := 0; i < 6; i++ {
		b.allow()
		b.record(true)
	}
	assert.True(t, b.Open())
	assert.False(t, b.allow(), "open breaker must refuse calls before the retry timer elapses")
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	b := newCircuitBreaker()
	b.state = stateOpen
	b.openedAt = time.Now().Add(-2 * time.Minute) // retryAfter is 60s

	assert.True(t, b.allow(), "retry timer elapsed: should transition to half-open and allow one trial")
	assert.Equal(t, stateHalfOpen, b.state)
	assert.False(t, b.allow(), "a second concurrent call must not be let through while the trial is in flight")
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := newCircuitBreaker()
	b.state = stateHalfOpen
	b.halfOpenInFlight = true

	b.record(false)
	assert.Equal(t, stateClosed, b.state)
	assert.False(t, b.Open())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newCircuitBreaker()
	b.state = stateHalfOpen
	b.halfOpenInFlight = true

	b.record(true)
	assert.Equal(t, stateOpen, b.state)
	assert.True(t, b.Open())
}

package bridgeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(Dependency, "gateway.predict", cause)

	assert.Equal(t, Dependency, err.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gateway.predict")
	assert.Contains(t, err.Error(), "boom")
}

func TestIs_MatchesKind(t *testing.T) {
	err := Validationf("trademanager.EnterTrade", "qty must be > 0")
	assert.True(t, Is(err, Validation))
	assert.False(t, Is(err, Fatal))
}

func TestWithContext_Chains(t *testing.T) {
	err := New(Protocol, "codec.read", nil).WithContext("session_id", "abc")
	assert.Equal(t, "abc", err.Context["session_id"])
}

package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketFrame_Valid(t *testing.T) {
	rsi60 := 60.0
	rsiNeg := -1.0

	tests := []struct {
		name  string
		frame MarketFrame
		want  bool
	}{
		{"valid with rsi", MarketFrame{Price: 100, RSI: &rsi60}, true},
		{"zero price invalid", MarketFrame{Price: 0}, false},
		{"negative price invalid", MarketFrame{Price: -5}, false},
		{"rsi out of range invalid", MarketFrame{Price: 100, RSI: &rsiNeg}, false},
		{"no rsi is valid", MarketFrame{Price: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.frame.Valid())
		})
	}
}

func TestMarketFrame_TsBucketMs(t *testing.T) {
	f := MarketFrame{TsMs: 1234567}
	assert.Equal(t, int64(1234000), f.TsBucketMs())
}

func TestPosition_Equal(t *testing.T) {
	a := Position{Direction: Long, Size: 1.0}
	b := Position{Direction: Long, Size: 1.0000001}
	c := Position{Direction: Flat, Size: 1.0}

	assert.True(t, a.Equal(b, 1e-4))
	assert.False(t, a.Equal(c, 1e-4))
}

func TestPointValueTable_DefaultsToOne(t *testing.T) {
	table := NewPointValueTable(nil)
	assert.Equal(t, 1.0, table.Get("unknown instrument"))
}

func TestPointValueTable_Seeded(t *testing.T) {
	table := DefaultPointValueTable()
	assert.Equal(t, 50.0, table.Get("ES 03-25"))
	assert.Equal(t, 1.0, table.Get("CL 03-25"))
}

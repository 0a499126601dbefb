package supervisor

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradebridge/internal/hostsession"
	"github.com/aristath/tradebridge/internal/market"
	"github.com/aristath/tradebridge/internal/prediction"
	"github.com/aristath/tradebridge/internal/store"
	"github.com/aristath/tradebridge/internal/trailing"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := Config{
		SettingsPath:         t.TempDir() + "/settings.json",
		MinConfidenceDefault: 0.5,
		AutoTradeDefault:     false,
		SubscriberQueueCap:   16,
		PredictionGatewayCfg: prediction.Config{CacheCapacity: 100, CacheTTL: time.Minute},
		TrailingCfg:          trailing.Config{},
		HostHeartbeatTimeout: time.Hour,
	}
	sup, err := New(zerolog.Nop(), cfg, prediction.RuleBasedPredictor{}, store.NoOp{})
	require.NoError(t, err)
	return sup
}

func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestSupervisor_MarketData_EmitsToSubscribers(t *testing.T) {
	sup := newTestSupervisor(t)
	sub := sup.Hub().Join(nil)
	defer sup.Hub().Leave(sub.ID)

	server, client := net.Pipe()
	defer client.Close()
	sess := hostsession.New(server, zerolog.Nop(), sup, time.Hour)
	go sess.Start()

	writeLine(t, client, map[string]any{"type": hostsession.TypeInstrumentRegistration, "instrument": "ES 03-25"})
	writeLine(t, client, map[string]any{"type": hostsession.TypeMarketData, "instrument": "ES 03-25", "price": 100, "ts": 1000})

	done := make(chan struct{})
	seen := map[string]bool{}
	go func() {
		for {
			ev, ok := sub.Next(done)
			if !ok {
				return
			}
			seen[ev.Channel] = true
			if seen[market.ChannelMarketData] && seen[market.ChannelMLPredictionResult] {
				close(done)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("did not observe expected channels, got: %v", seen)
	}
	assert.True(t, seen[market.ChannelMarketData])
	assert.True(t, seen[market.ChannelMLPredictionResult])
}

func TestSupervisor_ManualTrade_RejectsWithoutRegisteredHost(t *testing.T) {
	sup := newTestSupervisor(t)

	ok, reason := sup.ManualTrade(map[string]any{
		"instrument": "ES 03-25",
		"command":    "go_long",
		"quantity":   1.0,
		"price":      100.0,
	})
	assert.False(t, ok)
	assert.Equal(t, "no host for instrument", reason)
}

func TestSupervisor_SettingsRoundTrip(t *testing.T) {
	sup := newTestSupervisor(t)

	got := sup.GetSettings()
	assert.Equal(t, 0.5, got.MinConfidence)

	updated, err := sup.UpdateSettings(map[string]any{"auto_trading_enabled": true})
	require.NoError(t, err)
	assert.True(t, updated.AutoTradingEnabled)
	assert.True(t, sup.GetSettings().AutoTradingEnabled)
}

func TestSupervisor_SessionCountTracksLifecycle(t *testing.T) {
	sup := newTestSupervisor(t)
	assert.Equal(t, 0, sup.SessionCount())

	server, client := net.Pipe()
	defer client.Close()
	sess := hostsession.New(server, zerolog.Nop(), sup, time.Hour)

	sup.mu.Lock()
	sup.sessions[sess.ID] = sess
	sup.mu.Unlock()
	assert.Equal(t, 1, sup.SessionCount())

	sup.OnSessionClosed(sess, "test")
	assert.Equal(t, 0, sup.SessionCount())
}

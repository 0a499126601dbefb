package hostsession

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradebridge/internal/market"
)

type recordingDispatcher struct {
	mu                sync.Mutex
	registrations     []string
	marketFrames      []market.MarketFrame
	strategyStatus    int
	tradeExecutions   int
	predictionReqs    int
	trailingReqs      int
	closedReason      string
	closedCh          chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{closedCh: make(chan struct{})}
}

func (d *recordingDispatcher) OnInstrumentRegistration(s *Session, instrument string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registrations = append(d.registrations, instrument)
}
func (d *recordingDispatcher) OnMarketData(s *Session, frame market.MarketFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marketFrames = append(d.marketFrames, frame)
}
func (d *recordingDispatcher) OnStrategyStatus(s *Session, instrument string, payload map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategyStatus++
}
func (d *recordingDispatcher) OnTradeExecution(s *Session, instrument string, payload map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tradeExecutions++
}
func (d *recordingDispatcher) OnMLPredictionRequest(s *Session, instrument, requestID string, frame market.MarketFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.predictionReqs++
}
func (d *recordingDispatcher) OnSmartTrailingRequest(s *Session, instrument, requestID string, payload map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trailingReqs++
}
func (d *recordingDispatcher) OnSessionClosed(s *Session, reason string) {
	d.mu.Lock()
	d.closedReason = reason
	d.mu.Unlock()
	close(d.closedCh)
}

func (d *recordingDispatcher) regCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.registrations)
}

func (d *recordingDispatcher) marketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.marketFrames)
}

func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestSession_RegistersInstrumentAndAllowsMarketData(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, time.Hour)
	go sess.Start()
	defer sess.Close("test done")

	writeLine(t, client, map[string]any{"type": TypeInstrumentRegistration, "instrument": "ES 03-25"})
	waitFor(t, func() bool { return d.regCount() == 1 })

	writeLine(t, client, map[string]any{"type": TypeMarketData, "instrument": "ES 03-25", "price": 100})
	waitFor(t, func() bool { return d.marketCount() == 1 })
}

func TestSession_DropsMarketDataForUnregisteredInstrument(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, time.Hour)
	go sess.Start()
	defer sess.Close("test done")

	writeLine(t, client, map[string]any{"type": TypeMarketData, "instrument": "ES 03-25", "price": 100})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, d.marketCount())
}

func TestSession_HeartbeatRespondsInline(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, time.Hour)
	go sess.Start()
	defer sess.Close("test done")

	writeLine(t, client, map[string]any{"type": TypeHeartbeat})

	reader := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(time.Second))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.Equal(t, TypeHeartbeatResponse, resp["type"])
}

func TestSession_MalformedFramesCloseAfterThreshold(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, time.Hour)
	go sess.Start()

	for i := 0; i < maxConsecutiveErrors; i++ {
		_, err := client.Write([]byte("not json\n"))
		require.NoError(t, err)
	}

	select {
	case <-d.closedCh:
		assert.Equal(t, "protocol_abuse", d.closedReason)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not closed after exceeding the malformed-frame threshold")
	}
}

func TestSession_HeartbeatTimeoutClosesSession(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, 50*time.Millisecond)
	go sess.Start()

	select {
	case <-d.closedCh:
		assert.Equal(t, "heartbeat_timeout", d.closedReason)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not closed on heartbeat timeout")
	}
}

func TestSession_Send_AddsContinueOperationDefault(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, time.Hour)
	go sess.Start()
	defer sess.Close("test done")

	go func() {
		_ = sess.Send(map[string]any{"type": TypeCommand})
	}()

	reader := bufio.NewReader(client)
	client.SetReadDeadline(time.Now().Add(time.Second))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, "CONTINUE_OPERATION", got["strategy_action"])
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := newRecordingDispatcher()
	sess := New(server, zerolog.Nop(), d, time.Hour)
	go sess.Start()

	sess.Close("first")
	sess.Close("second")

	<-d.closedCh
	assert.Equal(t, "first", d.closedReason)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// Package subscriberhub implements the Dashboard-facing Subscriber Hub
// (spec §4.C): accepts WebSocket sessions, fans out named events to
// per-subscriber bounded queues with a drop-oldest policy, and serves a
// small RPC surface (settings, manual trade) with Socket.IO-style acks.
//
// Transport is nhooyr.io/websocket, grounded on the teacher's
// MarketStatusWebSocket client in internal/clients/tradernet/websocket_client.go,
// and the broadcast/fan-out shape is grounded on the teacher's
// internal/server/events_stream.go SSE handler, generalized here to bounded
// per-subscriber queues instead of a single SSE stream.
package subscriberhub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradebridge/internal/market"
)

// RPCHandler answers subscriber RPC calls: update_settings, get_settings,
// manual_trade. The Supervisor implements this to route into Settings and
// Trade Manager without the hub depending on either directly (spec §9
// narrow-interface inversion-of-ownership note).
type RPCHandler interface {
	UpdateSettings(patch map[string]any) (effective market.Settings, err error)
	GetSettings() market.Settings
	ManualTrade(payload map[string]any) (success bool, reason string)
}

// Hub owns every connected Subscriber and broadcasts events to them.
type Hub struct {
	log      zerolog.Logger
	capacity int
	rpc      RPCHandler

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	droppedTotal uint64
}

// New builds a Hub with the given default per-subscriber queue capacity
// (spec §4.C default 256).
func New(log zerolog.Logger, capacity int, rpc RPCHandler) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		log:         log.With().Str("component", "subscriber_hub").Logger(),
		capacity:    capacity,
		rpc:         rpc,
		subscribers: make(map[string]*Subscriber),
	}
}

// Join registers a new subscriber and returns it; the caller (the
// transport goroutine) owns delivering Subscriber.Next to the socket and
// must call Leave when the connection ends.
func (h *Hub) Join(channels []string) *Subscriber {
	sub := NewSubscriber(uuid.NewString(), h.capacity, channels)
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	h.log.Info().Str("subscriber_id", sub.ID).Int("count", h.Count()).Msg("subscriber joined")
	return sub
}

// Leave removes a subscriber. Idempotent.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
	h.log.Info().Str("subscriber_id", id).Int("count", h.Count()).Msg("subscriber left")
}

// Count returns the number of currently connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast delivers ev to every subscriber's queue. Never blocks the
// caller (spec §4.C: "the hub never blocks the Supervisor"); drops are
// tracked per-subscriber and in aggregate for /metrics.
func (h *Hub) Broadcast(ev market.Event) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		before := s.Dropped()
		s.deliver(ev)
		if after := s.Dropped(); after > before {
			h.mu.Lock()
			h.droppedTotal += after - before
			h.mu.Unlock()
		}
	}
}

// Emit is a convenience wrapper building an Event with the current time.
func (h *Hub) Emit(channel string, payload any) {
	h.Broadcast(market.Event{Channel: channel, Payload: payload, Ts: time.Now()})
}

// DroppedTotal returns the cumulative number of events dropped across all
// subscribers (surfaced on performance_metrics / GET /metrics).
func (h *Hub) DroppedTotal() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.droppedTotal
}

// ShutdownBroadcast sends connection_status:shutdown to every subscriber,
// step 2 of the Supervisor's graceful shutdown sequence (spec §3, §4.H).
func (h *Hub) ShutdownBroadcast() {
	h.Emit(market.ChannelConnectionStatus, map[string]any{"status": "shutdown"})
}

// DrainDeadline blocks until every subscriber's queue is empty or the
// deadline elapses, step 5 of graceful shutdown (default 2 s).
func (h *Hub) DrainDeadline(ctx context.Context, deadline time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.allQueuesEmpty() {
			return
		}
		select {
		case <-ctx.Done():
			h.log.Warn().Msg("subscriber drain deadline reached with events still queued")
			return
		case <-ticker.C:
		}
	}
}

func (h *Hub) allQueuesEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subscribers {
		if s.QueueLen() > 0 {
			return false
		}
	}
	return true
}

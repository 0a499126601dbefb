package subscriberhub

import (
	"sync"
	"time"

	"github.com/aristath/tradebridge/internal/market"
)

// envelope is the wire shape of one delivered event, always tagged with a
// channel name so the Dashboard's Socket.IO-style client can dispatch on it.
type envelope struct {
	Channel string    `json:"channel"`
	Payload any       `json:"payload"`
	Ts      time.Time `json:"ts"`
}

// Subscriber is one Dashboard session: a bounded outbound event queue and
// the set of channels it cares about (spec §3, §4.C).
type Subscriber struct {
	ID       string
	capacity int

	mu       sync.Mutex
	queue    []envelope
	channels map[string]bool // nil/empty means "all channels"
	dropped  uint64

	out chan struct{} // signalled when queue becomes non-empty; consumed by the transport writer
}

// NewSubscriber builds a Subscriber with the given bounded queue capacity.
// An empty channels set subscribes to every channel (spec §4.C default).
func NewSubscriber(id string, capacity int, channels []string) *Subscriber {
	if capacity <= 0 {
		capacity = 256
	}
	var chSet map[string]bool
	if len(channels) > 0 {
		chSet = make(map[string]bool, len(channels))
		for _, c := range channels {
			chSet[c] = true
		}
	}
	return &Subscriber{
		ID:       id,
		capacity: capacity,
		channels: chSet,
		out:      make(chan struct{}, 1),
	}
}

// wants reports whether this subscriber is subscribed to channel.
func (s *Subscriber) wants(channel string) bool {
	if len(s.channels) == 0 {
		return true
	}
	return s.channels[channel]
}

// deliver attempts a non-blocking enqueue of ev. If the queue is full the
// oldest entry is dropped (not the new one) and Dropped is incremented by
// exactly one, per spec §4.C / §8 property 12.
func (s *Subscriber) deliver(ev market.Event) {
	if !s.wants(ev.Channel) {
		return
	}
	e := envelope{Channel: ev.Channel, Payload: ev.Payload, Ts: ev.Ts}

	s.mu.Lock()
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.out <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or done is closed, then pops and
// returns the oldest queued event in FIFO order (spec §4.C ordering
// guarantee: per-subscriber, per-channel delivery order matches enqueue
// order).
func (s *Subscriber) Next(done <-chan struct{}) (envelope, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, true
		}
		s.mu.Unlock()

		select {
		case <-s.out:
			continue
		case <-done:
			return envelope{}, false
		}
	}
}

// Dropped returns the number of events dropped so far due to a full queue.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// QueueLen returns the current number of queued, undelivered events.
func (s *Subscriber) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Package broadcast fans task lifecycle events out to connected real-time
// subscribers. Delivery is best-effort: nothing is queued for absent clients
// and a subscriber that cannot keep up misses events.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber event buffer used when none is given.
const DefaultBuffer = 64

// Event is a named payload already encoded as JSON.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes payload and wraps it in an Event.
func NewEvent(name string, payload any) (Event, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		if !sonic.Valid(raw) {
			return Event{}, fmt.Errorf("event %s: invalid json payload", name)
		}
		return Event{Name: name, Data: raw}, nil
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Publisher is the publish point used by the task service. Publish never
// reports failure to the caller.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any)
}

// Hub is the process-local fan-out point.
type Hub struct {
	logger *log.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		panic("broadcast.NewHub: logger is nil")
	}
	return &Hub{logger: logger, subs: make(map[*Subscription]struct{})}
}

// Subscription is a single connected subscriber.
type Subscription struct {
	hub  *Hub
	ch   chan Event
	once sync.Once
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe attaches a new subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{hub: h, ch: make(chan Event, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.WithField("subscribers", n).Debug("subscriber connected")
	return sub
}

// Subscribers returns the number of currently attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish encodes payload and delivers it to every local subscriber.
func (h *Hub) Publish(_ context.Context, name string, payload any) {
	ev, err := NewEvent(name, payload)
	if err != nil {
		h.logger.WithError(err).Warn("drop unencodable event")
		return
	}
	h.Deliver(ev)
}

// Deliver sends ev to every subscriber without blocking. Subscribers whose
// buffer is full miss the event.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
			h.logger.WithField("event", ev.Name).Debug("subscriber buffer full, event dropped")
		}
	}
}

// Stats returns the number of delivered and dropped sends since start.
func (h *Hub) Stats() (delivered, dropped uint64) {
	return h.delivered.Load(), h.dropped.Load()
}

// Package hub fans out display events to any number of subscribers. A slow
// subscriber loses events instead of stalling the publisher.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/telemetry"
)

// Kind distinguishes chat messages from application notifications.
type Kind string

const (
	KindMessage      Kind = "message"
	KindNotification Kind = "notification"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Event is one item delivered to subscribers.
type Event struct {
	Kind    Kind          `json:"kind"`
	Message *chat.Message `json:"message,omitempty"`
	Author  string        `json:"author"`
	Text    string        `json:"text"`
	Time    time.Time     `json:"time"`
}

// MessageEvent wraps an accepted chat message.
func MessageEvent(m chat.Message) Event {
	return Event{Kind: KindMessage, Message: &m, Author: m.Author, Text: m.Text, Time: m.Timestamp}
}

// NotificationEvent is a System notification.
func NotificationEvent(text string, at time.Time) Event {
	return Event{Kind: KindNotification, Author: chat.SystemAuthor, Text: text, Time: at}
}

// Subscription receives events on C until it is unsubscribed or the hub is
// closed, at which point C is closed.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Event

	ch chan Event
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

func New() *Hub {
	return &Hub{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers a subscriber with the given buffer size (DefaultBuffer
// when <= 0). Subscribing to a closed hub returns an already closed
// subscription.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{ID: uuid.New(), C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s.ID] = s
	telemetry.SetGauge(telemetry.SubscribersGauge, float64(len(h.subs)))
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call repeatedly.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.ID]; !ok {
		return
	}
	delete(h.subs, s.ID)
	close(s.ch)
	telemetry.SetGauge(telemetry.SubscribersGauge, float64(len(h.subs)))
}

// Publish delivers ev to every subscriber without blocking. It returns the
// number of subscribers that dropped the event.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			dropped++
			telemetry.Inc(telemetry.SubscriberDrops)
		}
	}
	return dropped
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
	telemetry.SetGauge(telemetry.SubscribersGauge, 0)
}

// Package realtime fans out new-message events to connected dashboard
// sessions over server-sent events.
package realtime

import (
	"sync"
	"time"
)

// Event is one push notification for a profile's stream.
type Event struct {
	Type      string    `json:"type"`
	ProfileID uint64    `json:"profile_id"`
	MessageID uint64    `json:"message_id,omitempty"`
	From      string    `json:"from,omitempty"`
	Preview   string    `json:"preview,omitempty"`
	Flagged   bool      `json:"flagged,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	// EventNewMessage announces a stored inbound message.
	EventNewMessage = "new_message"
	// EventReplySent announces an outbound reply leaving the pipeline.
	EventReplySent = "reply_sent"
)

// subscriberBuffer bounds each subscriber channel; slow consumers drop
// events rather than block the pipeline.
const subscriberBuffer = 16

// Hub tracks subscribers per profile.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]map[chan Event]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]map[chan Event]struct{})}
}

// Subscribe registers a listener for one profile's events. The returned
// cancel func must be called when the connection closes.
func (h *Hub) Subscribe(profileID uint64) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[profileID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[profileID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[profileID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, profileID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its profile. Full
// subscriber buffers are skipped.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[event.ProfileID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports how many listeners a profile has.
func (h *Hub) SubscriberCount(profileID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[profileID])
}

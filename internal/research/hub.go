package research

import (
	"sync"
	"time"
)

// Event is one research-session progress update, streamed to websocket
// subscribers.
type Event struct {
	SessionID   string    `json:"session_id"`
	InterviewID string    `json:"interview_id"`
	State       string    `json:"state"`
	Iteration   int       `json:"iteration"`
	Quality     float64   `json:"quality,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub fans session events out to subscribers. Slow subscribers drop
// events rather than block a running session.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel and an unsubscribe func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// Publish delivers the event to every subscriber with room in its
// buffer. A nil hub is a no-op publisher.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	e.Timestamp = time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

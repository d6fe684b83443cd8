package session

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventSessionResumed EventKind = "session_resumed"
	EventSessionEnded   EventKind = "session_ended"
	EventCaptureAttempt EventKind = "capture_attempt"
)

type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID string          `json:"session_id"`
	Attempt   *CaptureAttempt `json:"attempt,omitempty"`
	Stats     *Stats          `json:"stats,omitempty"`
	At        time.Time       `json:"at"`
}

// Hub is a typed event channel owned by one Service instance; there is no
// ambient global registry. Subscribers receive a buffered channel and an
// unsubscribe func that MUST be called on teardown.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, 16)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// Publish never blocks; slow subscribers drop events rather than stall
// the capture path.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Package events fans processing progress out to connected clients. Delivery
// is best-effort at-most-once: the durable recording status is the source of
// truth and disconnected clients fall back to polling.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// Event is one progress or terminal notification for a recording.
type Event struct {
	RecordingID               uuid.UUID    `json:"recording_id"`
	Phase                     model.Phase  `json:"phase"`
	ProgressPercent           int          `json:"progress_percent"`
	EstimatedRemainingSeconds int          `json:"estimated_remaining_seconds"`
	Status                    string       `json:"status,omitempty"` // completed | failed on terminal events
	ReviewID                  *uuid.UUID   `json:"review_id,omitempty"`
	Error                     string       `json:"error,omitempty"`
	Timestamp                 time.Time    `json:"timestamp"`
}

// Subscription is one client's event stream. Close it when the client goes
// away; double-close is safe.
type Subscription struct {
	C    chan Event
	hub  *Hub
	id   uint64
	own  uuid.UUID
	once sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.own, s.id)
		close(s.C)
	})
}

// Hub is an owner-scoped publish/subscribe registry. Fan-out is by owner, not
// global broadcast: a subscriber only sees events for jobs it owns.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uuid.UUID]map[uint64]*Subscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[uint64]*Subscription)}
}

// Subscribe registers a stream for events of jobs owned by ownerID.
func (h *Hub) Subscribe(ownerID uuid.UUID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		C:   make(chan Event, 16),
		hub: h,
		id:  h.nextID,
		own: ownerID,
	}
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[uint64]*Subscription)
	}
	h.subs[ownerID][sub.id] = sub
	return sub
}

// Publish delivers ev to every subscriber of ownerID. A subscriber whose
// buffer is full misses the event rather than stalling the pipeline worker.
func (h *Hub) Publish(ownerID uuid.UUID, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[ownerID] {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

func (h *Hub) remove(ownerID uuid.UUID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[ownerID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(h.subs, ownerID)
		}
	}
}

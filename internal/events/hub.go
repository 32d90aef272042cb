// Package events is the in-process pub/sub used to observe dispatch, worker
// and gate activity.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBacklog   = 256
	subscriberBuffer = 128
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the write side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

type subscriber struct {
	ch chan Event
}

// Hub fans events out to subscribers and keeps a bounded backlog so a client
// that reconnects with its last seen id can catch up.
type Hub struct {
	mu      sync.Mutex
	seq     int64
	backlog []Event
	limit   int
	subs    map[*subscriber]struct{}

	dropped atomic.Uint64
}

// NewHub keeps up to backlog past events. Non-positive values use a default.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, 0, backlog),
		limit:   backlog,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish encodes data as the event payload. A nil or unencodable value
// becomes an empty object.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{ID: h.seq, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.limit-1]
	}
	h.backlog = append(h.backlog, ev)

	for s := range h.subs {
		// A full subscriber misses the event; workers never wait on readers.
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events published from now on and a cancel
// func that closes it. Cancel may be called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// SnapshotSince returns backlog events with an id above lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := 0
	for i < len(h.backlog) && h.backlog[i].ID <= lastID {
		i++
	}
	return append([]Event(nil), h.backlog[i:]...)
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) {}

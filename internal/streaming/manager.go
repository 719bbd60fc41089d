// Package streaming delivers best-effort progress events to status consumers.
// Delivery failures never fail or stall the research loop.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one progress snapshot for a query.
type Event struct {
	QueryID   string    `json:"query_id"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Message   string    `json:"message,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Event types emitted by the loop.
const (
	EventQueryStarted   = "QUERY_STARTED"
	EventPhaseChanged   = "PHASE_CHANGED"
	EventToolInvoked    = "TOOL_INVOKED"
	EventObservation    = "OBSERVATION"
	EventSynthesis      = "SYNTHESIS_STARTED"
	EventQueryCompleted = "QUERY_COMPLETED"
	EventQueryFailed    = "QUERY_FAILED"
)

// Marshal returns JSON for event payloads in SSE frames or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub per query with a fixed-capacity ring
// buffer for replay (Last-Event-ID support on the SSE endpoint).
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager with the given replay ring capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a query; the caller must drain it
// and call Unsubscribe.
func (m *Manager) Subscribe(queryID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[queryID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[queryID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(queryID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[queryID]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, queryID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay, and fans
// it out without blocking. Slow subscribers lose events.
func (m *Manager) Publish(queryID string, evt Event) {
	m.mu.Lock()
	rg := m.history[queryID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[queryID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	subs := m.subscribers[queryID]
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns events with Seq > since, best-effort within the ring
// capacity. The lock is held across the ring read because Publish mutates the
// ring in place.
func (m *Manager) ReplaySince(queryID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[queryID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

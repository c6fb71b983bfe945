// Package live fans case-update events out to connected websocket
// clients. Every API server runs one Hub; events arrive over the case
// events exchange so updates made by the worker or by another server
// instance still reach every subscriber.
package live

import "sync"

const subscriberBuffer = 16

// Hub tracks websocket subscribers per case and broadcasts events to
// them. A subscriber that cannot keep up has the event dropped rather
// than blocking the broadcast.
type Hub struct {
	lock  sync.RWMutex
	cases map[string]map[chan []byte]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		cases: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe registers a new subscriber for the given case and returns
// the channel its events arrive on. The caller must Unsubscribe when
// done; the channel is closed there.
func (h *Hub) Subscribe(caseID string) chan []byte {
	ch := make(chan []byte, subscriberBuffer)

	h.lock.Lock()
	defer h.lock.Unlock()

	subs, ok := h.cases[caseID]
	if !ok {
		subs = make(map[chan []byte]struct{})
		h.cases[caseID] = subs
	}
	subs[ch] = struct{}{}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// with a channel that was already removed.
func (h *Hub) Unsubscribe(caseID string, ch chan []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()

	subs, ok := h.cases[caseID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.cases, caseID)
	}
}

// Broadcast delivers an event to every subscriber of the given case.
// Slow subscribers with a full buffer miss the event.
func (h *Hub) Broadcast(caseID string, data []byte) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for ch := range h.cases[caseID] {
		select {
		case ch <- data:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers for a case.
func (h *Hub) Subscribers(caseID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.cases[caseID])
}

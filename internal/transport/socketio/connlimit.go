package socketio

import (
	"sync"
)

// ClientLimiter caps the number of concurrent push subscribers. The
// status channel is meant for a handful of dashboards; when a new
// connection exceeds the cap the oldest subscriber is evicted so a
// fresh dashboard always wins over a stale tab.
type ClientLimiter struct {
	mu  sync.Mutex
	max int
	// ordered client IDs, oldest first
	order []string
	known map[string]struct{}
}

// NewClientLimiter creates a limiter allowing up to max concurrent
// subscribers.
func NewClientLimiter(max int) *ClientLimiter {
	return &ClientLimiter{
		max:   max,
		order: make([]string, 0),
		known: make(map[string]struct{}),
	}
}

// Add registers a new subscriber and returns the ID of the client
// evicted to make room, or empty string if the cap was not exceeded.
func (cl *ClientLimiter) Add(clientID string) (evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.known[clientID]; exists {
		return ""
	}

	cl.known[clientID] = struct{}{}
	cl.order = append(cl.order, clientID)

	if len(cl.order) > cl.max {
		evictedID = cl.order[0]
		cl.order = cl.order[1:]
		delete(cl.known, evictedID)
	}

	return evictedID
}

// Remove unregisters a subscriber when it disconnects.
func (cl *ClientLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.known[clientID]; !exists {
		return
	}

	delete(cl.known, clientID)
	for i, id := range cl.order {
		if id == clientID {
			cl.order = append(cl.order[:i], cl.order[i+1:]...)
			break
		}
	}
}

// Count reports the number of tracked subscribers.
func (cl *ClientLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.order)
}

// Package feed propagates store changes to dependent views. Repositories
// publish after every write; subscribed views re-query and receive fresh
// snapshots without polling.
package feed

import (
	"sync"
)

// Hub fans change notifications out to per-episode subscribers. It
// implements repositories.ChangeFeed. Notifications are coalescing: a
// subscriber that has not drained its channel yet sees at most one
// pending signal, then re-queries and observes every write that happened
// before it.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan struct{}
	nextID      int
}

// NewHub creates a new change feed hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int]chan struct{}),
	}
}

// Subscribe registers for change notifications on one episode. The
// returned cancel func releases the subscription; calling it more than
// once is safe.
func (h *Hub) Subscribe(episodeID string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[episodeID] == nil {
		h.subscribers[episodeID] = make(map[int]chan struct{})
	}

	id := h.nextID
	h.nextID++
	ch := make(chan struct{}, 1)
	h.subscribers[episodeID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subscribers[episodeID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.subscribers, episodeID)
				}
			}
		})
	}

	return ch, cancel
}

// Publish notifies every subscriber of an episode. Never blocks: a
// subscriber with a pending signal is skipped, the signal it already
// holds covers this change too.
func (h *Hub) Publish(episodeID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[episodeID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub delivers events to in-process subscribers. A subscriber whose buffer is
// full misses the event.
type Hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[uint64]chan Event),
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Notify(_ context.Context, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("type", string(event.Type)),
			)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

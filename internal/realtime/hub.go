package realtime

import (
	"sync"
	"time"

	"soilify/internal/util"

	"go.uber.org/zap"
)

// Change tells subscribers that a table was modified and should be re-fetched.
type Change struct {
	Table string    `json:"table"`
	At    time.Time `json:"at"`
}

// Hub fans table changes out to in-process subscribers. Slow subscribers
// miss notifications instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Change
	next   uint64
	buffer int
	closed bool
	logger *zap.Logger
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[uint64]chan Change),
		buffer: buffer,
		logger: util.GetLogger(),
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Change, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	util.RealtimeSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		util.RealtimeSubscribers.Dec()
	}
}

// Publish delivers the change to every subscriber with room in its buffer
// and returns how many received it.
func (h *Hub) Publish(c Change) int {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, ch := range h.subs {
		select {
		case ch <- c:
			delivered++
		default:
			h.logger.Debug("Dropping change for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("table", c.Table))
		}
	}
	return delivered
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
		util.RealtimeSubscribers.Dec()
	}
}

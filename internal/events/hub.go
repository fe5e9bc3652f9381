package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives notifications from a Hub. Deliver is called on the
// notifying goroutine and must return quickly.
type Sink interface {
	Deliver(event Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(event Event)

// Deliver calls f(event)
func (f SinkFunc) Deliver(event Event) { f(event) }

// Hub fans notifications out to every attached sink. Notifications emitted
// while nothing is attached are dropped.
type Hub struct {
	mu     sync.RWMutex
	sinks  map[uint64]Sink
	nextID uint64
	logger *slog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// HubStats represents hub delivery statistics
type HubStats struct {
	Sinks     int    `json:"sinks"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		sinks:  make(map[uint64]Sink),
		logger: logger,
	}
}

// Attach registers a sink and returns the function that detaches it
func (h *Hub) Attach(sink Sink) (detach func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.sinks[id] = sink
	count := len(h.sinks)
	h.mu.Unlock()

	h.logger.Debug("Event sink attached", slog.Uint64("sink_id", id), slog.Int("sinks", count))

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.sinks, id)
			h.mu.Unlock()
			h.logger.Debug("Event sink detached", slog.Uint64("sink_id", id))
		})
	}
}

// Attached reports whether at least one sink is registered
func (h *Hub) Attached() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks) > 0
}

// Notify delivers event to every attached sink
func (h *Hub) Notify(event Event) {
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	if len(sinks) == 0 {
		h.dropped.Add(1)
		return
	}

	for _, s := range sinks {
		s.Deliver(event)
	}
	h.delivered.Add(1)
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	sinks := len(h.sinks)
	h.mu.RUnlock()

	return HubStats{
		Sinks:     sinks,
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// ChannelSink buffers notifications in a channel, dropping them when the
// reader falls behind.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, size)}
}

// Deliver enqueues event without blocking
func (c *ChannelSink) Deliver(event Event) {
	select {
	case c.C <- event:
	default:
	}
}

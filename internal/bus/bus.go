package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

// ErrClosed is returned by Receive once the producer side is closed and the
// subscription has been drained.
var ErrClosed = errors.New("bus closed")

// LagError reports chunks dropped because a subscriber fell behind
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged, %d chunks dropped", e.Skipped)
}

// Bus is a single-producer, multi-consumer chunk broadcaster
type Bus struct {
	capacity int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	published atomic.Uint64
}

// Stats represents bus statistics for monitoring
type Stats struct {
	Capacity      int                 `json:"capacity"`
	Published     uint64              `json:"published"`
	Subscriptions []SubscriptionStats `json:"subscriptions"`
	Closed        bool                `json:"closed"`
}

// SubscriptionStats represents per-subscriber statistics
type SubscriptionStats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Pending  int    `json:"pending"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// New creates a bus whose subscriptions hold capacity chunks by default
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}

	return &Bus{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe returns a subscription with the default capacity. It only sees
// chunks published after this call.
func (b *Bus) Subscribe(name string) *Subscription {
	return b.SubscribeSize(name, b.capacity)
}

// SubscribeSize returns a subscription with its own capacity
func (b *Bus) SubscribeSize(name string, capacity int) *Subscription {
	if capacity < 1 {
		capacity = 1
	}

	sub := &Subscription{
		name:   name,
		bus:    b,
		ring:   make([]audio.Chunk, capacity),
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed = true
		return sub
	}
	b.subs[sub] = struct{}{}

	return sub
}

// Publish hands chunk to every subscription. It never waits for a consumer and
// is safe to call with no subscribers. Publishing after Close is a no-op.
func (b *Bus) Publish(chunk audio.Chunk) {
	// subscriptions lock themselves; the read lock only pins the set
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	for sub := range b.subs {
		sub.push(chunk)
	}
}

// Close signals every subscriber that no more chunks will arrive.
// Pending chunks remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		sub.close()
	}
}

// GetStats returns current bus statistics
func (b *Bus) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Capacity:      b.capacity,
		Published:     b.published.Load(),
		Closed:        b.closed,
		Subscriptions: make([]SubscriptionStats, 0, len(b.subs)),
	}
	for sub := range b.subs {
		stats.Subscriptions = append(stats.Subscriptions, sub.GetStats())
	}

	return stats
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Subscription is one consumer's read cursor into the bus
type Subscription struct {
	name string
	bus  *Bus

	mu     sync.Mutex
	ring   []audio.Chunk
	head   int
	size   int
	lagged uint64
	closed bool

	received uint64
	dropped  uint64

	notify chan struct{}
}

// Name returns the label given at subscription time
func (s *Subscription) Name() string {
	return s.name
}

// push appends chunk, overwriting the oldest unread chunk when full
func (s *Subscription) push(chunk audio.Chunk) {
	s.mu.Lock()
	if s.size == len(s.ring) {
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.lagged++
		s.dropped++
	}
	s.ring[(s.head+s.size)%len(s.ring)] = chunk
	s.size++
	s.mu.Unlock()

	s.wake()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryReceive returns the next chunk without waiting. ok is false when
// nothing is pending; err is a *LagError or ErrClosed.
func (s *Subscription) TryReceive() (chunk audio.Chunk, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lagged > 0 {
		skipped := s.lagged
		s.lagged = 0
		return nil, false, &LagError{Skipped: skipped}
	}

	if s.size > 0 {
		chunk = s.ring[s.head]
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.received++
		return chunk, true, nil
	}

	if s.closed {
		return nil, false, ErrClosed
	}

	return nil, false, nil
}

// Receive waits for the next chunk. A *LagError is returned once, before the
// chunks that survived the overflow, when this subscriber fell behind.
func (s *Subscription) Receive(ctx context.Context) (audio.Chunk, error) {
	for {
		chunk, ok, err := s.TryReceive()
		if err != nil || ok {
			return chunk, err
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Unsubscribe detaches the subscription from the bus
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.close()
}

// GetStats returns current subscription statistics
func (s *Subscription) GetStats() SubscriptionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SubscriptionStats{
		Name:     s.name,
		Capacity: len(s.ring),
		Pending:  s.size,
		Received: s.received,
		Dropped:  s.dropped,
	}
}

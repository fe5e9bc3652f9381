package meter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/bus"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
)

// DefaultInterval is the minimum spacing between progress notifications
const DefaultInterval = 10 * time.Millisecond

// Peak returns the rectified peak of chunk: the larger of the highest positive
// excursion and the negated lowest negative excursion, clamped to MaxSample.
func Peak(chunk audio.Chunk) audio.Sample {
	var maxPos, minNeg int32
	for _, s := range chunk {
		v := int32(s)
		if v > maxPos {
			maxPos = v
		}
		if v < minNeg {
			minNeg = v
		}
	}

	peak := maxPos
	if -minNeg > peak {
		peak = -minNeg
	}
	if peak > int32(audio.MaxSample) {
		peak = int32(audio.MaxSample)
	}
	return audio.Sample(peak)
}

// Meter turns chunks into throttled Progress notifications
type Meter struct {
	interval time.Duration
	notifier events.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.Mutex
	lastSent  time.Time
	lastPeak  audio.Sample
	processed uint64
	emitted   uint64
	skipped   uint64
}

// Stats represents meter statistics
type Stats struct {
	Processed uint64       `json:"processed"`
	Emitted   uint64       `json:"emitted"`
	Skipped   uint64       `json:"skipped"`
	LastPeak  audio.Sample `json:"last_peak"`
}

// New creates a meter emitting at most once per interval
func New(interval time.Duration, notifier events.Notifier, logger *slog.Logger, m *metrics.Metrics) *Meter {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Meter{
		interval: interval,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// attached reports whether anybody listens for notifications
func (m *Meter) attached() bool {
	if a, ok := m.notifier.(events.Attachable); ok {
		return a.Attached()
	}
	return m.notifier != nil
}

// Observe processes one chunk and emits a notification if the throttle
// window has elapsed. It reports whether a notification was emitted.
func (m *Meter) Observe(chunk audio.Chunk) bool {
	if !m.attached() {
		m.mu.Lock()
		m.skipped++
		m.mu.Unlock()
		return false
	}

	peak := Peak(chunk)
	now := m.now()

	m.mu.Lock()
	m.processed++
	m.lastPeak = peak
	if !m.lastSent.IsZero() && now.Sub(m.lastSent) < m.interval {
		m.mu.Unlock()
		return false
	}
	m.lastSent = now
	m.emitted++
	m.mu.Unlock()

	m.notifier.Notify(events.NewProgress(peak))
	m.metrics.RecordProgress(int(peak))

	return true
}

// Run drains sub until the bus closes or ctx is done. Lag is expected and
// only logged at debug level.
func (m *Meter) Run(ctx context.Context, sub *bus.Subscription) error {
	for {
		chunk, err := sub.Receive(ctx)
		if err != nil {
			var lagErr *bus.LagError
			if errors.As(err, &lagErr) {
				m.metrics.RecordChunksDropped(sub.Name(), lagErr.Skipped)
				m.logger.Debug("Level meter lagged", slog.Uint64("skipped_chunks", lagErr.Skipped))
				continue
			}
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}

		m.Observe(chunk)
	}
}

// GetStats returns current meter statistics
func (m *Meter) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Processed: m.processed,
		Emitted:   m.emitted,
		Skipped:   m.skipped,
		LastPeak:  m.lastPeak,
	}
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/bus"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/meter"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
	"github.com/tikhomirovv/voice-keyboard/internal/persist"
	"github.com/tikhomirovv/voice-keyboard/internal/transcription"
)

// State is the lifecycle state of a Session
type State int32

const (
	StateIdle State = iota
	StateActive
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one recording from start to finalized file
type Session struct {
	id        string
	device    device.Device
	startedAt time.Time

	bus      *bus.Bus
	stream   device.Stream
	writer   *persist.Writer
	meter    *meter.Meter
	streamer *transcription.Streamer

	// cancel aborts the consumers when finalization overruns
	cancel        context.CancelFunc
	consumersDone chan struct{}
	consumerErr   error

	// closed when the transcription pump has forwarded its backlog
	streamerDone chan struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics

	state  atomic.Int32
	done   chan struct{}
	panics atomic.Uint64

	mu         sync.Mutex
	stoppedAt  time.Time
	transcript string
}

// SessionInfo is a snapshot of a session for callers and the API
type SessionInfo struct {
	ID        string        `json:"id"`
	Device    device.Device `json:"device"`
	Path      string        `json:"path"`
	State     string        `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

// Stats aggregates per-consumer statistics of a session
type Stats struct {
	Info           SessionInfo          `json:"info"`
	Bus            bus.Stats            `json:"bus"`
	File           persist.Stats        `json:"file"`
	Meter          meter.Stats          `json:"meter"`
	Transcription  *transcription.Stats `json:"transcription,omitempty"`
	CallbackPanics uint64               `json:"callback_panics"`
}

func newSession(id string, dev device.Device, b *bus.Bus, logger *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		id:            id,
		device:        dev,
		bus:           b,
		consumersDone: make(chan struct{}),
		logger:        logger,
		metrics:       m,
		done:          make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session is fully torn down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// publish is the capture callback. It runs on the driver thread, so a panic
// here is contained and counted instead of unwinding into the driver.
func (s *Session) publish(chunk audio.Chunk) {
	defer func() {
		if rec := recover(); rec != nil {
			s.panics.Add(1)
			s.metrics.RecordCallbackPanic()
			s.logger.Error("Capture callback panicked", slog.Any("panic", rec))
		}
	}()

	s.bus.Publish(chunk)
	s.metrics.RecordChunkPublished()
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	end := s.stoppedAt
	s.mu.Unlock()
	if end.IsZero() {
		end = time.Now()
	}

	info := SessionInfo{
		ID:        s.id,
		Device:    s.device,
		State:     s.State().String(),
		StartedAt: s.startedAt,
		ElapsedMs: end.Sub(s.startedAt).Milliseconds(),
	}
	if s.writer != nil {
		info.Path = s.writer.Path()
	}
	return info
}

// Elapsed returns how long the session has been recording
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.startedAt)
}

// GetStats returns current session statistics
func (s *Session) GetStats() Stats {
	stats := Stats{
		Info:           s.Info(),
		Bus:            s.bus.GetStats(),
		File:           s.writer.GetStats(),
		Meter:          s.meter.GetStats(),
		CallbackPanics: s.panics.Load(),
	}
	if s.streamer != nil {
		ts := s.streamer.GetStats()
		stats.Transcription = &ts
	}
	return stats
}

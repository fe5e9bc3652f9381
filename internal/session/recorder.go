package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/bus"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/meter"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
	"github.com/tikhomirovv/voice-keyboard/internal/persist"
	"github.com/tikhomirovv/voice-keyboard/internal/transcription"
)

// Config contains recorder configuration
type Config struct {
	RecordingsDir  string
	MaxWriteErrors int

	BusCapacity  int
	FileCapacity int

	ProgressInterval time.Duration
	MaxDuration      time.Duration
	WatchdogInterval time.Duration
	FinalizeTimeout  time.Duration

	TranscriptionEnabled bool
	Transcription        transcription.Config
}

// DefaultConfig returns the recorder defaults
func DefaultConfig() Config {
	return Config{
		RecordingsDir:        "recordings",
		MaxWriteErrors:       3,
		BusCapacity:          512,
		FileCapacity:         4096,
		ProgressInterval:     meter.DefaultInterval,
		MaxDuration:          5 * time.Second,
		WatchdogInterval:     time.Second,
		FinalizeTimeout:      5 * time.Second,
		TranscriptionEnabled: true,
		Transcription:        transcription.DefaultConfig(),
	}
}

// Recorder is the registry slot holding at most one live session
type Recorder struct {
	config   Config
	opener   device.Opener
	notifier events.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	slot     *events.CompletionSlot

	mu      sync.Mutex
	current *Session
	last    *Session

	watchdogs sync.WaitGroup
	started   atomic.Uint64
	stopped   atomic.Uint64
}

// RecorderStats represents recorder statistics
type RecorderStats struct {
	SessionsStarted uint64 `json:"sessions_started"`
	SessionsStopped uint64 `json:"sessions_stopped"`
	Recording       bool   `json:"recording"`
	Current         *Stats `json:"current,omitempty"`
	Last            *Stats `json:"last,omitempty"`
}

// NewRecorder creates an idle recorder
func NewRecorder(config Config, opener device.Opener, notifier events.Notifier, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	defaults := DefaultConfig()
	if config.BusCapacity <= 0 {
		config.BusCapacity = defaults.BusCapacity
	}
	if config.FileCapacity <= 0 {
		config.FileCapacity = defaults.FileCapacity
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = defaults.WatchdogInterval
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = defaults.FinalizeTimeout
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = defaults.ProgressInterval
	}
	if notifier == nil {
		notifier = events.Discard
	}

	return &Recorder{
		config:   config,
		opener:   opener,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		slot:     events.NewCompletionSlot(),
	}
}

// Completions returns the slot receiving file finalization outcomes
func (r *Recorder) Completions() *events.CompletionSlot {
	return r.slot
}

// Start opens the selected device and begins a new session. An empty
// selector records from the default input device. On failure nothing is
// left behind: no stream, no goroutines and no file.
func (r *Recorder) Start(ctx context.Context, selector string) (SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.metrics.RecordSessionStartFailure("already_recording")
		return SessionInfo{}, ErrAlreadyRecording
	}

	if err := ctx.Err(); err != nil {
		return SessionInfo{}, err
	}

	s, err := r.build(selector)
	if err != nil {
		r.metrics.RecordSessionStartFailure(CodeFor(err).String())
		r.logger.Warn("Failed to start recording",
			slog.String("selector", selector),
			slog.String("error", err.Error()))
		return SessionInfo{}, err
	}

	r.current = s
	r.started.Add(1)
	r.metrics.RecordSessionStarted()

	r.notifier.Notify(events.NewStart(s.id, s.device.Name))

	if r.config.MaxDuration > 0 {
		r.watchdogs.Add(1)
		go r.watch(s)
	}

	s.logger.Info("Recording started",
		slog.String("device", s.device.Name),
		slog.Int("sample_rate", s.device.SampleRate),
		slog.String("path", s.writer.Path()),
		slog.Duration("max_duration", r.config.MaxDuration))

	return s.Info(), nil
}

// build constructs and arms a session. Every resource acquired before a
// failure is released before returning.
func (r *Recorder) build(selector string) (*Session, error) {
	dev, err := r.opener.Resolve(selector)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := r.logger.With(slog.String("session_id", id))
	b := bus.New(r.config.BusCapacity)
	s := newSession(id, dev, b, logger, r.metrics)

	writer, err := persist.NewWriter(persist.Config{
		Dir:            r.config.RecordingsDir,
		MaxWriteErrors: r.config.MaxWriteErrors,
	}, id, dev.SampleRate, r.slot, logger, r.metrics)
	if err != nil {
		return nil, err
	}
	s.writer = writer

	fileSub := b.SubscribeSize("file", r.config.FileCapacity)
	meterSub := b.Subscribe("meter")
	s.meter = meter.New(r.config.ProgressInterval, r.notifier, logger, r.metrics)

	var streamSub *bus.Subscription
	if r.config.TranscriptionEnabled {
		streamSub = b.Subscribe("transcription")
		s.streamer = transcription.NewStreamer(r.config.Transcription, r.notifier, logger, r.metrics)
	}

	release := func() {
		b.Close()
		if s.streamer != nil {
			s.streamer.Close()
		}
		writer.Abort()
	}

	stream, err := r.opener.Open(dev, s.publish)
	if err != nil {
		release()
		return nil, err
	}

	if s.streamer != nil {
		if err := s.streamer.Initialize(""); err != nil {
			logger.Warn("Transcription unavailable", slog.String("error", err.Error()))
		}
	}

	s.startedAt = time.Now()
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		if !errors.Is(err, device.ErrDeviceConfig) {
			err = fmt.Errorf("%w: %v", device.ErrDeviceConfig, err)
		}
		return nil, err
	}
	s.stream = stream
	s.state.Store(int32(StateActive))

	consumerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var g errgroup.Group
	g.Go(func() error { return writer.Run(consumerCtx, fileSub) })
	g.Go(func() error { return s.meter.Run(consumerCtx, meterSub) })
	if streamSub != nil {
		s.streamerDone = make(chan struct{})
		g.Go(func() error {
			defer close(s.streamerDone)
			return s.streamer.Run(consumerCtx, streamSub)
		})
	}
	go func() {
		s.consumerErr = g.Wait()
		close(s.consumersDone)
	}()

	return s, nil
}

// Stop ends the live session and returns its transcript. It is a no-op when
// nothing is recording. When several callers race, one performs the teardown
// and gets the transcript; the others wait for it and get an empty string.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	if s == nil {
		return "", nil
	}
	return r.stopSession(ctx, s)
}

func (r *Recorder) stopSession(ctx context.Context, s *Session) (string, error) {
	if !s.transition(StateActive, StateStopping) {
		select {
		case <-s.done:
			return "", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return r.teardown(s), nil
}

// teardown runs the shutdown sequence of s. Only the caller that moved s to
// Stopping gets here.
func (r *Recorder) teardown(s *Session) string {
	s.logger.Info("Stopping recording", slog.Duration("elapsed", s.Elapsed()))

	if err := s.stream.Close(); err != nil {
		s.logger.Warn("Failed to close capture stream", slog.String("error", err.Error()))
	}
	s.bus.Close()

	timer := time.NewTimer(r.config.FinalizeTimeout)
	defer timer.Stop()

	timedOut := false
	var transcript string
	if s.streamer != nil {
		// the pump returns once the chunks queued before the bus closed are sent
		select {
		case <-s.streamerDone:
		case <-timer.C:
			timedOut = true
		}
		transcript = s.streamer.Close()
	}

	var completion events.Completion
	if !timedOut {
		select {
		case <-s.consumersDone:
			if s.consumerErr != nil {
				s.logger.Warn("Consumer finished with error", slog.String("error", s.consumerErr.Error()))
			}
			if c, ok := r.slot.Last(); ok && c.SessionID == s.id {
				completion = c
			} else {
				completion = events.Completion{
					SessionID: s.id,
					Failed:    true,
					Code:      events.CodeFinalizeError,
					Message:   "recording file was not finalized",
				}
			}
		case <-timer.C:
			timedOut = true
		}
	}
	s.cancel()

	if timedOut {
		r.metrics.RecordFinalizeTimeout()
		s.logger.Error("Recording did not finalize in time",
			slog.Duration("timeout", r.config.FinalizeTimeout))
		completion = events.Completion{
			SessionID: s.id,
			Failed:    true,
			Code:      events.CodeFinalizeTimeout,
			Message:   fmt.Sprintf("recording did not finalize within %s", r.config.FinalizeTimeout),
		}
	}

	s.mu.Lock()
	s.stoppedAt = time.Now()
	s.transcript = transcript
	s.mu.Unlock()

	r.notifier.Notify(events.NewStop(s.id, transcript))
	r.notifier.Notify(completion.Event())

	if !completion.Failed {
		if info, err := audio.ReadWAVInfo(completion.Path); err == nil {
			s.logger.Info("Recording saved",
				slog.String("path", info.Path),
				slog.Int("samples", info.NumSamples),
				slog.Duration("duration", info.Duration))
		} else {
			s.logger.Warn("Failed to read back recording", slog.String("error", err.Error()))
		}
	}

	s.state.Store(int32(StateClosed))

	r.mu.Lock()
	if r.current == s {
		r.current = nil
	}
	r.last = s
	r.mu.Unlock()

	r.stopped.Add(1)
	r.metrics.RecordSessionStopped(s.Elapsed().Seconds())
	close(s.done)

	s.logger.Info("Recording stopped",
		slog.Int("transcript_bytes", len(transcript)),
		slog.Uint64("callback_panics", s.panics.Load()))

	return transcript
}

// Current returns the live session, if any
func (r *Recorder) Current() (SessionInfo, bool) {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	if s == nil {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// GetStats returns current recorder statistics
func (r *Recorder) GetStats() RecorderStats {
	r.mu.Lock()
	current, last := r.current, r.last
	r.mu.Unlock()

	stats := RecorderStats{
		SessionsStarted: r.started.Load(),
		SessionsStopped: r.stopped.Load(),
		Recording:       current != nil,
	}
	if current != nil {
		cs := current.GetStats()
		stats.Current = &cs
	}
	if last != nil {
		ls := last.GetStats()
		stats.Last = &ls
	}
	return stats
}

// Close stops any live session and waits for watchdogs to exit
func (r *Recorder) Close(ctx context.Context) error {
	if _, err := r.Stop(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		r.watchdogs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

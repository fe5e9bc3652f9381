package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/bus"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
	"github.com/tikhomirovv/voice-keyboard/internal/protocol"
)

// ErrNotConnected is returned by Send unless the stream is Connected
var ErrNotConnected = errors.New("transcription stream is not connected")

// State is the connection state of a Streamer
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Config contains streamer configuration
type Config struct {
	Host         string
	Port         int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// DrainTimeout bounds how long Close waits for trailing replies after
	// half-closing the write side. Zero drops the connection immediately.
	DrainTimeout time.Duration
	MaxLineSize  int
	Debug        bool
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         43001,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		DrainTimeout: 2 * time.Second,
		MaxLineSize:  protocol.DefaultMaxLineSize,
	}
}

// Endpoint returns the host:port address of the service
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Stats represents streamer statistics
type Stats struct {
	State         string `json:"state"`
	Endpoint      string `json:"endpoint"`
	Connects      uint64 `json:"connects"`
	ChunksSent    uint64 `json:"chunks_sent"`
	BytesSent     uint64 `json:"bytes_sent"`
	ChunksSkipped uint64 `json:"chunks_skipped"`
	LinesReceived uint64 `json:"lines_received"`
	Errors        uint64 `json:"errors"`
}

// Streamer owns at most one connection to the transcription service
type Streamer struct {
	config   Config
	notifier events.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	state      State
	gen        uint64
	endpoint   string
	conn       net.Conn
	readerDone chan struct{}
	transcript strings.Builder

	sendMu  sync.Mutex
	scratch []byte

	connects      atomic.Uint64
	chunksSent    atomic.Uint64
	bytesSent     atomic.Uint64
	chunksSkipped atomic.Uint64
	linesReceived atomic.Uint64
	errorCount    atomic.Uint64
}

// NewStreamer creates a disconnected streamer
func NewStreamer(config Config, notifier events.Notifier, logger *slog.Logger, m *metrics.Metrics) *Streamer {
	defaults := DefaultConfig()
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.Port == 0 {
		config.Port = defaults.Port
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.MaxLineSize <= 0 {
		config.MaxLineSize = defaults.MaxLineSize
	}
	if notifier == nil {
		notifier = events.Discard
	}

	return &Streamer{
		config:   config,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
	}
}

// Initialize starts connecting to endpoint in the background and returns
// immediately. An empty endpoint uses the configured host and port. Dial
// failures are reported as ConnectionError notifications.
func (s *Streamer) Initialize(endpoint string) error {
	if endpoint == "" {
		endpoint = s.config.Endpoint()
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot initialize transcription stream in state %s", state)
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.endpoint = endpoint
	s.transcript.Reset()
	s.mu.Unlock()

	s.logger.Debug("Connecting to transcription service", slog.String("endpoint", endpoint))

	go s.connect(gen, endpoint)
	return nil
}

// connect dials the service and installs the connection if the attempt has
// not been superseded by Close.
func (s *Streamer) connect(gen uint64, endpoint string) {
	dialer := net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.Dial("tcp", endpoint)

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		s.report(events.CodeConnectionError, fmt.Sprintf("failed to connect to transcription service at %s: %v", endpoint, err))
		return
	}

	done := make(chan struct{})
	s.conn = conn
	s.readerDone = done
	s.state = StateConnected
	s.transcript.Reset()
	s.mu.Unlock()

	s.connects.Add(1)
	s.metrics.SetStreamerConnected(true)
	s.logger.Info("Connected to transcription service", slog.String("endpoint", endpoint))

	go s.readLoop(gen, conn, done)
}

// readLoop appends every received line to the transcript until the
// connection ends.
func (s *Streamer) readLoop(gen uint64, conn net.Conn, done chan struct{}) {
	defer close(done)

	reader := protocol.NewLineReader(conn, s.config.MaxLineSize)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.disconnect(gen, conn)
				return
			}
			s.fail(gen, conn, events.CodeReadError, "error reading from transcription service", err)
			return
		}

		s.mu.Lock()
		if s.gen == gen {
			s.transcript.WriteString(line)
			s.transcript.WriteByte('\n')
		}
		s.mu.Unlock()

		s.linesReceived.Add(1)
		s.metrics.RecordStreamerLine()
	}
}

// Send writes chunk as little-endian samples
func (s *Streamer) Send(chunk audio.Chunk) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		s.chunksSkipped.Add(1)
		return ErrNotConnected
	}
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	if s.config.Debug {
		s.validate(chunk)
	}

	s.sendMu.Lock()
	s.scratch = protocol.AppendSamples(s.scratch[:0], chunk)
	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	n, err := conn.Write(s.scratch)
	s.sendMu.Unlock()

	if err != nil {
		s.fail(gen, conn, events.CodeWriteError, "failed to send audio data", err)
		return fmt.Errorf("failed to send audio data: %w", err)
	}

	s.chunksSent.Add(1)
	s.bytesSent.Add(uint64(n))
	s.metrics.RecordStreamerSent(n)

	return nil
}

// Close shuts the stream down and returns the accumulated transcript,
// clearing it. It is safe to call in any state.
func (s *Streamer) Close() string {
	s.mu.Lock()
	prev := s.state
	conn := s.conn
	done := s.readerDone
	s.state = StateClosing
	s.mu.Unlock()

	if conn != nil {
		s.drain(conn, done)
		conn.Close()
		<-done
	}

	s.mu.Lock()
	s.gen++
	s.conn = nil
	s.readerDone = nil
	s.state = StateDisconnected
	text := s.transcript.String()
	s.transcript.Reset()
	s.mu.Unlock()

	if prev == StateConnected {
		s.metrics.SetStreamerConnected(false)
	}
	s.logger.Debug("Transcription stream closed",
		slog.String("previous_state", prev.String()),
		slog.Int("transcript_bytes", len(text)))

	return text
}

// drain half-closes the write side and waits for the service to finish
// replying, bounded by the drain timeout.
func (s *Streamer) drain(conn net.Conn, done <-chan struct{}) {
	if s.config.DrainTimeout <= 0 {
		return
	}

	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		return
	}

	timer := time.NewTimer(s.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Debug("Transcription drain timed out", slog.Duration("timeout", s.config.DrainTimeout))
	}
}

// Run pumps chunks from sub into Send until the bus closes. Chunks arriving
// while the stream is not connected are discarded.
func (s *Streamer) Run(ctx context.Context, sub *bus.Subscription) error {
	for {
		chunk, err := sub.Receive(ctx)
		if err != nil {
			var lagErr *bus.LagError
			if errors.As(err, &lagErr) {
				s.metrics.RecordChunksDropped(sub.Name(), lagErr.Skipped)
				s.logger.Warn("Transcription stream lagged", slog.Uint64("skipped_chunks", lagErr.Skipped))
				continue
			}
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}

		// send failures are already reported as notifications
		_ = s.Send(chunk)
	}
}

// State returns the current connection state
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetStats returns current streamer statistics
func (s *Streamer) GetStats() Stats {
	s.mu.Lock()
	state := s.state
	endpoint := s.endpoint
	s.mu.Unlock()

	if endpoint == "" {
		endpoint = s.config.Endpoint()
	}

	return Stats{
		State:         state.String(),
		Endpoint:      endpoint,
		Connects:      s.connects.Load(),
		ChunksSent:    s.chunksSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		ChunksSkipped: s.chunksSkipped.Load(),
		LinesReceived: s.linesReceived.Load(),
		Errors:        s.errorCount.Load(),
	}
}

// disconnect handles a clean end of stream from the service
func (s *Streamer) disconnect(gen uint64, conn net.Conn) {
	s.mu.Lock()
	if s.gen != gen || s.conn != conn || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.conn = nil
	s.mu.Unlock()

	conn.Close()
	s.metrics.SetStreamerConnected(false)
	s.logger.Info("Transcription service closed the connection")
}

// fail moves a live connection to Disconnected and reports err. Errors on a
// connection that is already being closed are expected and ignored.
func (s *Streamer) fail(gen uint64, conn net.Conn, code events.ErrorCode, msg string, err error) {
	s.mu.Lock()
	if s.gen != gen || s.conn != conn || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.conn = nil
	s.mu.Unlock()

	conn.Close()
	s.metrics.SetStreamerConnected(false)
	s.report(code, fmt.Sprintf("%s: %v", msg, err))
}

func (s *Streamer) report(code events.ErrorCode, message string) {
	s.errorCount.Add(1)
	s.metrics.RecordStreamerError(code.String())
	s.logger.Warn("Transcription stream error",
		slog.String("code", code.String()),
		slog.String("error", message))
	s.notifier.Notify(events.NewError(code, message))
}

// validate logs sample statistics for a chunk about to be sent
func (s *Streamer) validate(chunk audio.Chunk) {
	if len(chunk) == 0 {
		s.logger.Warn("Empty audio chunk")
		return
	}

	minValue, maxValue := audio.MaxSample, audio.MinSample
	var sum int64
	zeros := 0
	for _, v := range chunk {
		if v < minValue {
			minValue = v
		}
		if v > maxValue {
			maxValue = v
		}
		sum += int64(v)
		if v == 0 {
			zeros++
		}
	}

	s.logger.Debug("Audio chunk statistics",
		slog.Int("bytes", protocol.EncodedLen(chunk)),
		slog.Int("min", int(minValue)),
		slog.Int("max", int(maxValue)),
		slog.Float64("mean", float64(sum)/float64(len(chunk))),
		slog.Float64("zero_ratio", float64(zeros)/float64(len(chunk))))

	if zeros == len(chunk) {
		s.logger.Warn("All samples in chunk are zero")
	} else if int(maxValue)-int(minValue) < 10 {
		s.logger.Warn("Very low dynamic range in chunk", slog.Int("range", int(maxValue)-int(minValue)))
	}
}

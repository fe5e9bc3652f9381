// Package transcriptiontest provides a line-oriented stand-in for the speech
// recognition service, used by tests and by the fakewhisper command.
package transcriptiontest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/protocol"
)

// DefaultWindow is the number of samples acknowledged by each reply line
const DefaultWindow = 1600

// ReplyFunc produces the text line sent back for one window of samples
type ReplyFunc func(window int, samples audio.Chunk) string

// FinalFunc produces the line sent once the client half-closes. An empty
// result sends nothing.
type FinalFunc func(total int64) string

// Config contains fake server configuration
type Config struct {
	Address string
	Window  int
	Reply   ReplyFunc
	Final   FinalFunc
}

// Server accepts connections and answers every Window samples with a line
type Server struct {
	config   Config
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	connections atomic.Int64
	samples     atomic.Int64
	lines       atomic.Int64
}

// DefaultReply describes the window without recognizing anything
func DefaultReply(window int, samples audio.Chunk) string {
	var peak int
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return fmt.Sprintf("window %d: %d samples, peak %d", window, len(samples), peak)
}

// DefaultFinal summarizes the connection
func DefaultFinal(total int64) string {
	return fmt.Sprintf("done: %d samples", total)
}

// NewServer listens on config.Address. Use "127.0.0.1:0" for an ephemeral port.
func NewServer(config Config, logger *slog.Logger) (*Server, error) {
	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Reply == nil {
		config.Reply = DefaultReply
	}
	if config.Final == nil {
		config.Final = DefaultFinal
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	return &Server{
		config:   config,
		listener: listener,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listening address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start accepts connections in the background
func (s *Server) Start() {
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Accept failed", slog.String("error", err.Error()))
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.connections.Add(1)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Info("Client connected", slog.String("remote", remote))

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	frame := make([]byte, s.config.Window*protocol.SampleSize)
	var total int64
	window := 0

	for {
		n, err := io.ReadFull(reader, frame)
		if n >= protocol.SampleSize {
			samples, decodeErr := protocol.DecodeSamples(frame[:n-n%protocol.SampleSize])
			if decodeErr == nil {
				total += int64(len(samples))
				s.samples.Add(int64(len(samples)))
				window++
				if !s.writeLine(writer, s.config.Reply(window, samples)) {
					return
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if line := s.config.Final(total); line != "" {
					s.writeLine(writer, line)
				}
				s.logger.Info("Client finished",
					slog.String("remote", remote),
					slog.Int64("samples", total))
				return
			}
			s.logger.Debug("Connection ended", slog.String("remote", remote), slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Server) writeLine(w *bufio.Writer, line string) bool {
	if _, err := w.WriteString(line + "\n"); err != nil {
		return false
	}
	if err := w.Flush(); err != nil {
		return false
	}
	s.lines.Add(1)
	return true
}

// Connections returns the number of accepted connections
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

// Samples returns the number of samples received across all connections
func (s *Server) Samples() int64 {
	return s.samples.Load()
}

// Lines returns the number of reply lines written
func (s *Server) Lines() int64 {
	return s.lines.Load()
}

// Close stops accepting, drops open connections and waits for handlers
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

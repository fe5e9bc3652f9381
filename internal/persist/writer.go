package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/bus"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
)

// ErrFileWrite is returned when the recording file cannot be created
var ErrFileWrite = errors.New("recording file error")

// pcmFormat is the WAVE format tag for linear PCM
const pcmFormat = 1

// file is the destination the encoder writes to and seeks back into when
// finalizing the header
type file interface {
	io.WriteSeeker
	io.Closer
}

var createFile = func(path string) (file, error) {
	return os.Create(path)
}

// Config contains file consumer configuration
type Config struct {
	Dir            string
	MaxWriteErrors int
}

// Writer appends chunks to one recording file
type Writer struct {
	id         string
	path       string
	sampleRate int
	config     Config

	file    file
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer

	slot    *events.CompletionSlot
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	samples     uint64
	writeErrors uint64
	gaps        uint64
	finalized   bool
}

// Stats represents writer statistics
type Stats struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Samples     uint64 `json:"samples"`
	WriteErrors uint64 `json:"write_errors"`
	Gaps        uint64 `json:"gaps"`
	Finalized   bool   `json:"finalized"`
}

// FileName returns the recording file name for a session
func FileName(id string, created time.Time) string {
	return fmt.Sprintf("%d_%s.wav", created.UnixMilli(), id)
}

// NewWriter creates the recording file for session id
func NewWriter(config Config, id string, sampleRate int, slot *events.CompletionSlot,
	logger *slog.Logger, m *metrics.Metrics) (*Writer, error) {

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrFileWrite, sampleRate)
	}

	if config.MaxWriteErrors < 1 {
		config.MaxWriteErrors = 3
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create recordings directory %s: %v", ErrFileWrite, config.Dir, err)
	}

	path := filepath.Join(config.Dir, FileName(id, time.Now()))
	f, err := createFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %v", ErrFileWrite, path, err)
	}

	w := &Writer{
		id:         id,
		path:       path,
		sampleRate: sampleRate,
		config:     config,
		file:       f,
		encoder:    wav.NewEncoder(f, sampleRate, audio.BitDepth, audio.Channels, pcmFormat),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: sampleRate},
			SourceBitDepth: audio.BitDepth,
		},
		slot:    slot,
		logger:  logger.With(slog.String("session_id", id)),
		metrics: m,
	}

	// Writing an empty buffer emits the RIFF and data chunk headers, so even a
	// recording that never receives a chunk finalizes into a valid file.
	if err := w.encoder.Write(w.buf); err != nil {
		w.Abort()
		return nil, fmt.Errorf("%w: failed to write header to %s: %v", ErrFileWrite, path, err)
	}

	w.logger.Debug("Recording file created", slog.String("path", path))

	return w, nil
}

// Path returns the recording file path
func (w *Writer) Path() string {
	return w.path
}

// Run drains sub until the bus is closed, then finalizes the file.
// Cancelling ctx also finalizes with whatever was written so far.
func (w *Writer) Run(ctx context.Context, sub *bus.Subscription) error {
	consecutiveErrors := 0
	var runErr error

	for {
		chunk, err := sub.Receive(ctx)
		if err != nil {
			var lagErr *bus.LagError
			if errors.As(err, &lagErr) {
				w.mu.Lock()
				w.gaps++
				w.mu.Unlock()
				w.metrics.RecordChunksDropped(sub.Name(), lagErr.Skipped)
				w.logger.Warn("Recording has a gap, file writer fell behind",
					slog.Uint64("skipped_chunks", lagErr.Skipped),
				)
				continue
			}

			if !errors.Is(err, bus.ErrClosed) {
				runErr = err
			}
			break
		}

		if err := w.append(chunk); err != nil {
			consecutiveErrors++
			w.metrics.RecordFileWriteError()
			w.logger.Error("Failed to append samples", slog.String("error", err.Error()))

			if errors.Is(err, fs.ErrClosed) || consecutiveErrors >= w.config.MaxWriteErrors {
				runErr = fmt.Errorf("%w: aborting after %d write errors: %v", ErrFileWrite, consecutiveErrors, err)
				break
			}
			continue
		}
		consecutiveErrors = 0
	}

	w.finalize(runErr)
	return runErr
}

// append writes one chunk to the file
func (w *Writer) append(chunk audio.Chunk) error {
	if len(chunk) == 0 {
		return nil
	}

	if cap(w.buf.Data) < len(chunk) {
		w.buf.Data = make([]int, len(chunk))
	}
	w.buf.Data = w.buf.Data[:len(chunk)]
	for i, s := range chunk {
		w.buf.Data[i] = int(s)
	}

	if err := w.encoder.Write(w.buf); err != nil {
		w.mu.Lock()
		w.writeErrors++
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.samples += uint64(len(chunk))
	w.mu.Unlock()
	w.metrics.RecordSamplesWritten(len(chunk))

	return nil
}

// finalize writes the header, closes the file and announces the outcome
func (w *Writer) finalize(cause error) {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return
	}
	w.finalized = true
	samples := w.samples
	w.mu.Unlock()

	completion := events.Completion{SessionID: w.id, Path: w.path}

	encErr := w.encoder.Close()
	closeErr := w.file.Close()

	switch {
	case encErr != nil || closeErr != nil:
		err := errors.Join(encErr, closeErr)
		completion.Failed = true
		completion.Code = events.CodeFinalizeError
		completion.Message = fmt.Sprintf("failed to finalize %s: %v", w.path, err)
		w.logger.Error("Failed to finalize recording", slog.String("error", err.Error()))
	case cause != nil && !errors.Is(cause, context.Canceled):
		completion.Failed = true
		completion.Code = events.CodeFileWriteError
		completion.Message = cause.Error()
		w.logger.Error("Recording aborted", slog.String("error", cause.Error()))
	default:
		w.logger.Info("Recording finalized",
			slog.String("path", w.path),
			slog.Uint64("samples", samples),
			slog.Duration("duration", audio.Duration(int(samples), w.sampleRate)),
		)
	}

	if w.slot != nil {
		w.slot.Set(completion)
	}
}

// Abort closes and removes the file. It is used when a session fails to start
// and nothing has been announced yet.
func (w *Writer) Abort() {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return
	}
	w.finalized = true
	w.mu.Unlock()

	_ = w.file.Close()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("Failed to remove aborted recording",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	}
}

// GetStats returns current writer statistics
func (w *Writer) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		ID:          w.id,
		Path:        w.path,
		Samples:     w.samples,
		WriteErrors: w.writeErrors,
		Gaps:        w.gaps,
		Finalized:   w.finalized,
	}
}

package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

// Wire constants
const (
	// SampleSize is the number of bytes each sample occupies on the wire
	SampleSize = audio.BytesPerSample

	// DefaultMaxLineSize bounds a single transcript line
	DefaultMaxLineSize = 64 * 1024
)

// ByteOrder is the sample byte order agreed with the transcription service
var ByteOrder = binary.LittleEndian

// EncodedLen returns the wire size of a chunk
func EncodedLen(chunk audio.Chunk) int {
	return len(chunk) * SampleSize
}

// AppendSamples appends the wire encoding of chunk to dst and returns the extended slice
func AppendSamples(dst []byte, chunk audio.Chunk) []byte {
	for _, s := range chunk {
		dst = ByteOrder.AppendUint16(dst, uint16(s))
	}
	return dst
}

// EncodeSamples returns the wire encoding of chunk
func EncodeSamples(chunk audio.Chunk) []byte {
	return AppendSamples(make([]byte, 0, EncodedLen(chunk)), chunk)
}

// DecodeSamples parses raw wire bytes back into samples
func DecodeSamples(data []byte) (audio.Chunk, error) {
	if len(data)%SampleSize != 0 {
		return nil, fmt.Errorf("sample data length must be a multiple of %d (got %d bytes)", SampleSize, len(data))
	}

	chunk := make(audio.Chunk, len(data)/SampleSize)
	for i := range chunk {
		chunk[i] = audio.Sample(ByteOrder.Uint16(data[i*SampleSize:]))
	}
	return chunk, nil
}

// LineReader splits the inbound direction into transcript fragments
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader creates a reader that accepts lines up to maxLineSize bytes
func NewLineReader(r io.Reader, maxLineSize int) *LineReader {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}

	initial := 4096
	if maxLineSize < initial {
		initial = maxLineSize
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxLineSize)

	return &LineReader{scanner: scanner}
}

// ReadLine returns the next fragment without its line terminator.
// io.EOF is returned once the peer closes its side cleanly.
func (l *LineReader) ReadLine() (string, error) {
	if l.scanner.Scan() {
		return strings.TrimSuffix(l.scanner.Text(), "\r"), nil
	}

	if err := l.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

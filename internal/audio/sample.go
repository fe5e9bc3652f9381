package audio

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Sample is the canonical signed sample. Every captured value is converted to
// this width before it leaves the capture callback.
type Sample int16

// Chunk is one batch of samples produced by a single capture callback.
// A published chunk is shared between consumers and must not be modified.
type Chunk []Sample

// Canonical stream parameters
const (
	Channels       = 1
	BitDepth       = 16
	BytesPerSample = BitDepth / 8

	MaxSample Sample = math.MaxInt16
	MinSample Sample = math.MinInt16
)

// Format identifies a driver-native sample format
type Format int

const (
	FormatInt8 Format = iota
	FormatInt16
	FormatInt32
	FormatFloat32
)

var formatNames = map[Format]string{
	FormatInt8:    "int8",
	FormatInt16:   "int16",
	FormatInt32:   "int32",
	FormatFloat32: "float32",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat resolves a format name as used in configuration files
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unsupported sample format '%s'", name)
}

// FromInt8 widens an 8-bit sample to the canonical width
func FromInt8(v int8) Sample {
	return Sample(v) << 8
}

// FromInt32 narrows a 32-bit sample by keeping its most significant bits
func FromInt32(v int32) Sample {
	return Sample(v >> 16)
}

// FromFloat32 maps a float sample in [-1, 1] to the canonical range, clipping
// anything outside of it.
func FromFloat32(v float32) Sample {
	switch {
	case v != v: // NaN
		return 0
	case v >= 1:
		return MaxSample
	case v <= -1:
		return MinSample
	}
	return Sample(v * 32768)
}

// ConvertInt8 copies an int8 buffer into a new chunk
func ConvertInt8(in []int8) Chunk {
	out := make(Chunk, len(in))
	for i, v := range in {
		out[i] = FromInt8(v)
	}
	return out
}

// ConvertInt16 copies an int16 buffer into a new chunk
func ConvertInt16(in []int16) Chunk {
	out := make(Chunk, len(in))
	for i, v := range in {
		out[i] = Sample(v)
	}
	return out
}

// ConvertInt32 copies an int32 buffer into a new chunk
func ConvertInt32(in []int32) Chunk {
	out := make(Chunk, len(in))
	for i, v := range in {
		out[i] = FromInt32(v)
	}
	return out
}

// ConvertFloat32 copies a float32 buffer into a new chunk
func ConvertFloat32(in []float32) Chunk {
	out := make(Chunk, len(in))
	for i, v := range in {
		out[i] = FromFloat32(v)
	}
	return out
}

// Duration returns how long numSamples last at the given sample rate
func Duration(numSamples int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(numSamples) * time.Second / time.Duration(sampleRate)
}

package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WAVInfo describes a finished recording
type WAVInfo struct {
	Path          string        `json:"path"`
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	BitsPerSample int           `json:"bits_per_sample"`
	NumSamples    int           `json:"num_samples"`
	Duration      time.Duration `json:"duration"`
}

// ReadWAV decodes a mono 16-bit PCM WAV file into canonical samples
func ReadWAV(path string) (Chunk, *WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open WAV file %s: %w", path, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read PCM data from %s: %w", path, err)
	}

	if decoder.BitDepth != BitDepth {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only %d-bit is supported)", decoder.BitDepth, BitDepth)
	}

	if decoder.NumChans != Channels {
		return nil, nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", decoder.NumChans)
	}

	samples := make(Chunk, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = Sample(v)
	}

	info := &WAVInfo{
		Path:          path,
		SampleRate:    int(decoder.SampleRate),
		Channels:      int(decoder.NumChans),
		BitsPerSample: int(decoder.BitDepth),
		NumSamples:    len(samples),
		Duration:      Duration(len(samples), int(decoder.SampleRate)),
	}

	return samples, info, nil
}

// ReadWAVInfo returns metadata for a finished recording
func ReadWAVInfo(path string) (*WAVInfo, error) {
	_, info, err := ReadWAV(path)
	return info, err
}

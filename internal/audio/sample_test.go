package audio

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat32(t *testing.T) {
	tests := []struct {
		name     string
		input    float32
		expected Sample
	}{
		{"silence", 0, 0},
		{"full scale positive", 1, MaxSample},
		{"full scale negative", -1, MinSample},
		{"clipped positive", 1.5, MaxSample},
		{"clipped negative", -2, MinSample},
		{"half scale", 0.5, 16384},
		{"nan", float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromFloat32(tt.input))
		})
	}
}

func TestIntegerConversions(t *testing.T) {
	assert.Equal(t, Sample(0), FromInt8(0))
	assert.Equal(t, Sample(127<<8), FromInt8(math.MaxInt8))
	assert.Equal(t, MinSample, FromInt8(math.MinInt8))

	assert.Equal(t, MaxSample, FromInt32(math.MaxInt32))
	assert.Equal(t, MinSample, FromInt32(math.MinInt32))
	assert.Equal(t, Sample(1), FromInt32(1<<16))
}

func TestConvertCopiesInput(t *testing.T) {
	in := []int16{1, -1, 2}
	out := ConvertInt16(in)
	in[0] = 99

	assert.Equal(t, Chunk{1, -1, 2}, out)
	assert.Equal(t, Chunk{256, -256}, ConvertInt8([]int8{1, -1}))
	assert.Equal(t, Chunk{1}, ConvertInt32([]int32{1 << 16}))
	assert.Equal(t, Chunk{0, MaxSample}, ConvertFloat32([]float32{0, 1}))
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"int8", "int16", "INT32", "float32"} {
		f, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, strings.ToLower(name), f.String())
	}

	_, err := ParseFormat("uint24")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Second, Duration(48000, 48000))
	assert.Equal(t, 500*time.Millisecond, Duration(8000, 16000))
	assert.Equal(t, time.Duration(0), Duration(100, 0))
}

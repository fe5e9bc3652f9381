package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

func TestHashNameStable(t *testing.T) {
	first := HashName("Built-in Microphone")
	second := HashName("Built-in Microphone")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, HashName("USB Headset"))
	assert.Regexp(t, "^[0-9a-f]+$", first)
}

func TestResolve(t *testing.T) {
	devices := []Device{
		{ID: HashName("USB Headset"), Name: "USB Headset"},
		{ID: HashName("Built-in Microphone"), Name: "Built-in Microphone", Default: true},
	}

	tests := []struct {
		name     string
		devices  []Device
		selector string
		expected string
		notFound bool
	}{
		{"default device", devices, "", "Built-in Microphone", false},
		{"by hashed id", devices, HashName("USB Headset"), "USB Headset", false},
		{"unknown id", devices, "deadbeef", "", true},
		{"no default", devices[:1], "", "", true},
		{"no devices", nil, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := Resolve(tt.devices, tt.selector)
			if tt.notFound {
				assert.ErrorIs(t, err, ErrDeviceNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dev.Name)
		})
	}
}

func TestForwardConvertsAndPublishes(t *testing.T) {
	var got []audio.Chunk
	callback := Forward(audio.ConvertInt8, func(chunk audio.Chunk) {
		got = append(got, chunk)
	}, nil)

	callback([]int8{1, -1})
	require.Len(t, got, 1)
	assert.Equal(t, audio.Chunk{audio.FromInt8(1), audio.FromInt8(-1)}, got[0])
}

func TestForwardRecoversPanics(t *testing.T) {
	tests := []struct {
		name    string
		convert func([]int16) audio.Chunk
		publish Publisher
	}{
		{
			name:    "conversion",
			convert: func([]int16) audio.Chunk { panic("bad buffer") },
			publish: func(audio.Chunk) {},
		},
		{
			name:    "publish",
			convert: audio.ConvertInt16,
			publish: func(audio.Chunk) { panic("consumer bug") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recovered []any
			callback := Forward(tt.convert, tt.publish, func(r any) {
				recovered = append(recovered, r)
			})

			assert.NotPanics(t, func() { callback([]int16{1, 2}) })
			assert.Len(t, recovered, 1)
		})
	}

	t.Run("without handler", func(t *testing.T) {
		callback := Forward(func([]int16) audio.Chunk { panic("bad buffer") }, func(audio.Chunk) {}, nil)
		assert.NotPanics(t, func() { callback([]int16{1}) })
	})
}

package device

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

var (
	// ErrDeviceNotFound is returned when a selector matches no input device
	// and no default input device exists.
	ErrDeviceNotFound = errors.New("input device not found")

	// ErrDeviceConfig is returned when a capture stream cannot be built or started
	ErrDeviceConfig = errors.New("input device configuration error")
)

// Device describes an input device
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Default    bool   `json:"default"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	HostAPI    string `json:"host_api,omitempty"`
}

// Stream is an opened capture stream. Close stops production and releases the
// device; it is safe to call more than once.
type Stream interface {
	Start() error
	Close() error
}

// Publisher receives every converted chunk from the capture callback.
// It is called on the driver's real-time thread and must not block.
type Publisher func(chunk audio.Chunk)

// Forward builds a driver callback that converts each native buffer and hands
// it to publish. A panic in either step is recovered and passed to onPanic so
// it never unwinds into the driver thread.
func Forward[T any](convert func([]T) audio.Chunk, publish Publisher, onPanic func(recovered any)) func([]T) {
	return func(in []T) {
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(r)
			}
		}()
		publish(convert(in))
	}
}

// Opener enumerates devices and opens capture streams
type Opener interface {
	Devices() ([]Device, error)
	Resolve(selector string) (Device, error)
	Open(dev Device, publish Publisher) (Stream, error)
}

// HashName derives the stable identifier of a device from its name
func HashName(name string) string {
	return strconv.FormatUint(xxhash.Sum64String(name), 16)
}

// Resolve picks a device from devices. An empty selector selects the default
// input device; anything else must equal a device ID.
func Resolve(devices []Device, selector string) (Device, error) {
	for _, d := range devices {
		if selector == "" && d.Default {
			return d, nil
		}
		if selector != "" && d.ID == selector {
			return d, nil
		}
	}

	if selector == "" {
		return Device{}, fmt.Errorf("%w: no default input device", ErrDeviceNotFound)
	}
	return Device{}, fmt.Errorf("%w: no device with id %s", ErrDeviceNotFound, selector)
}

package session

import (
	"errors"

	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/persist"
	"github.com/tikhomirovv/voice-keyboard/internal/transcription"
)

// ErrAlreadyRecording is returned by Start while another session is live
var ErrAlreadyRecording = errors.New("recording already in progress")

// CodeFor maps an error returned by this package to its notification code
func CodeFor(err error) events.ErrorCode {
	switch {
	case errors.Is(err, ErrAlreadyRecording):
		return events.CodeAlreadyRecording
	case errors.Is(err, device.ErrDeviceNotFound):
		return events.CodeDeviceNotFound
	case errors.Is(err, device.ErrDeviceConfig):
		return events.CodeDeviceConfigError
	case errors.Is(err, persist.ErrFileWrite):
		return events.CodeFileWriteError
	case errors.Is(err, transcription.ErrNotConnected):
		return events.CodeNotConnected
	default:
		return events.CodeStreamError
	}
}

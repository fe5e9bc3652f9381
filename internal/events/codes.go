package events

import "fmt"

// ErrorCode classifies errors surfaced through Error notifications
type ErrorCode uint8

const (
	// Configuration errors (0-9)
	CodeConfigError       ErrorCode = 0
	CodeAlreadyRecording  ErrorCode = 1
	CodeDeviceNotFound    ErrorCode = 2
	CodeDeviceConfigError ErrorCode = 3

	// Connection errors (10-19)
	CodeConnectionError ErrorCode = 10
	CodeNotConnected    ErrorCode = 11

	// Stream errors (20-29)
	CodeStreamError ErrorCode = 20
	CodeWriteError  ErrorCode = 21
	CodeReadError   ErrorCode = 22

	// Persistence errors (30-39)
	CodeFileWriteError  ErrorCode = 30
	CodeFinalizeError   ErrorCode = 31
	CodeFinalizeTimeout ErrorCode = 32
)

var codeNames = map[ErrorCode]string{
	CodeConfigError:       "CONFIG_ERROR",
	CodeAlreadyRecording:  "ALREADY_RECORDING",
	CodeDeviceNotFound:    "DEVICE_NOT_FOUND",
	CodeDeviceConfigError: "DEVICE_CONFIG_ERROR",
	CodeConnectionError:   "CONNECTION_ERROR",
	CodeNotConnected:      "NOT_CONNECTED",
	CodeStreamError:       "STREAM_ERROR",
	CodeWriteError:        "WRITE_ERROR",
	CodeReadError:         "READ_ERROR",
	CodeFileWriteError:    "FILE_WRITE_ERROR",
	CodeFinalizeError:     "FINALIZE_ERROR",
	CodeFinalizeTimeout:   "FINALIZE_TIMEOUT",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", uint8(c))
}

package events

import (
	"time"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
)

// Type names a lifecycle notification
type Type string

const (
	TypeStart    Type = "start"
	TypeProgress Type = "progress"
	TypeStop     Type = "stop"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Event is a single notification. Data holds one of the payload types below.
type Event struct {
	Type Type `json:"event"`
	Data any  `json:"data"`
}

// Start is emitted once a session's capture stream is armed
type Start struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
	Device    string `json:"device"`
}

// Progress carries the latest input level
type Progress struct {
	Timestamp int64        `json:"timestamp"`
	Peak      audio.Sample `json:"peak"`
}

// Stop is emitted exactly once per session
type Stop struct {
	Timestamp  int64  `json:"timestamp"`
	SessionID  string `json:"sessionId"`
	Transcript string `json:"transcript,omitempty"`
}

// Complete announces a finalized recording file
type Complete struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Error reports a failure on the consumer side of the pipeline
type Error struct {
	Code      ErrorCode `json:"code"`
	CodeStr   string    `json:"codeStr"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
}

// Notifier accepts notifications. Implementations must not block the caller.
type Notifier interface {
	Notify(event Event)
}

// Attachable reports whether any delivery channel is listening
type Attachable interface {
	Attached() bool
}

func timestamp() int64 {
	return time.Now().UnixMilli()
}

// NewStart builds a Start notification
func NewStart(sessionID, device string) Event {
	return Event{Type: TypeStart, Data: Start{Timestamp: timestamp(), SessionID: sessionID, Device: device}}
}

// NewProgress builds a Progress notification
func NewProgress(peak audio.Sample) Event {
	return Event{Type: TypeProgress, Data: Progress{Timestamp: timestamp(), Peak: peak}}
}

// NewStop builds a Stop notification
func NewStop(sessionID, transcript string) Event {
	return Event{Type: TypeStop, Data: Stop{Timestamp: timestamp(), SessionID: sessionID, Transcript: transcript}}
}

// NewComplete builds a Complete notification
func NewComplete(id, path string) Event {
	return Event{Type: TypeComplete, Data: Complete{ID: id, Path: path}}
}

// NewError builds an Error notification
func NewError(code ErrorCode, message string) Event {
	return Event{Type: TypeError, Data: Error{
		Code:      code,
		CodeStr:   code.String(),
		Message:   message,
		Timestamp: timestamp(),
	}}
}

// Discard is a Notifier that drops everything
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Event) {}

func (discard) Attached() bool { return false }

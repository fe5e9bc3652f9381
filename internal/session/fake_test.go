package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
)

// fakeStream hands the publisher to the test instead of a driver thread
type fakeStream struct {
	mu       sync.Mutex
	publish  device.Publisher
	startErr error
	started  bool
	closed   bool
}

func (f *fakeStream) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// push delivers chunk as the capture callback would
func (f *fakeStream) push(chunk audio.Chunk) {
	f.mu.Lock()
	live := f.started && !f.closed
	publish := f.publish
	f.mu.Unlock()

	if live {
		publish(chunk)
	}
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOpener serves a fixed device list
type fakeOpener struct {
	devices  []device.Device
	openErr  error
	startErr error

	mu      sync.Mutex
	streams []*fakeStream
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		devices: []device.Device{
			{ID: device.HashName("Built-in Microphone"), Name: "Built-in Microphone", Default: true, SampleRate: 16000, Channels: 1},
			{ID: device.HashName("USB Headset"), Name: "USB Headset", SampleRate: 48000, Channels: 1},
		},
	}
}

func (f *fakeOpener) Devices() ([]device.Device, error) {
	return f.devices, nil
}

func (f *fakeOpener) Resolve(selector string) (device.Device, error) {
	return device.Resolve(f.devices, selector)
}

func (f *fakeOpener) Open(dev device.Device, publish device.Publisher) (device.Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeStream{publish: publish, startErr: f.startErr}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeOpener) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

var errDriver = errors.New("driver refused")

// eventLog collects notifications from every goroutine
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Notify(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Attached() bool { return true }

// lifecycle returns all events except progress
func (l *eventLog) lifecycle() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Event, 0, len(l.events))
	for _, e := range l.events {
		if e.Type != events.TypeProgress {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) count(t events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) errorCodes() []events.ErrorCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	var codes []events.ErrorCode
	for _, e := range l.events {
		if e.Type == events.TypeError {
			codes = append(codes, e.Data.(events.Error).Code)
		}
	}
	return codes
}

func (l *eventLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("%v", l.events)
}

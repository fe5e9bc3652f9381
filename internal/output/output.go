package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
)

const meterWidth = 30

type Formatter struct {
	w io.Writer

	// set while a level bar occupies the current line
	meterLine bool
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted(id, deviceName, path string, maxDuration time.Duration) {
	f.endMeter()
	fmt.Fprintf(f.w, "🎙️  Recording from %s\n", deviceName)
	fmt.Fprintf(f.w, "   session %s\n", id)
	fmt.Fprintf(f.w, "   file    %s\n", path)
	if maxDuration > 0 {
		fmt.Fprintf(f.w, "   stops automatically after %s (Ctrl+C to stop earlier)\n", formatDuration(maxDuration))
	} else {
		fmt.Fprintf(f.w, "   Ctrl+C to stop\n")
	}
}

// Level redraws the input level bar in place
func (f *Formatter) Level(peak audio.Sample) {
	filled := int(peak) * meterWidth / int(audio.MaxSample)
	if filled > meterWidth {
		filled = meterWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", meterWidth-filled)
	fmt.Fprintf(f.w, "\r   %s %5d", bar, peak)
	f.meterLine = true
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	f.endMeter()
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) FileSaved(path string) {
	f.endMeter()
	fmt.Fprintf(f.w, "✅ Recording saved: %s\n", path)
}

func (f *Formatter) Transcript(text string) {
	f.endMeter()
	text = strings.TrimRight(text, "\n")
	if text == "" {
		fmt.Fprintf(f.w, "📝 No transcript received\n")
		return
	}
	fmt.Fprintf(f.w, "📝 Transcript:\n")
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(f.w, "   %s\n", line)
	}
}

// Notification prints a lifecycle notification. Progress updates the level
// bar; start and stop are reported by their dedicated methods.
func (f *Formatter) Notification(e events.Event) {
	switch data := e.Data.(type) {
	case events.Progress:
		f.Level(data.Peak)
	case events.Complete:
		f.FileSaved(data.Path)
	case events.Error:
		f.Warning(fmt.Sprintf("%s: %s", data.CodeStr, data.Message))
	}
}

func (f *Formatter) DeviceList(devices []device.Device) {
	if len(devices) == 0 {
		fmt.Fprintf(f.w, "No input devices found\n")
		return
	}

	fmt.Fprintf(f.w, "🎤 Input devices:\n\n")
	for _, d := range devices {
		marker := "  "
		if d.Default {
			marker = "* "
		}
		fmt.Fprintf(f.w, "  %s%-16s %s (%d Hz", marker, d.ID, d.Name, d.SampleRate)
		if d.HostAPI != "" {
			fmt.Fprintf(f.w, ", %s", d.HostAPI)
		}
		fmt.Fprintf(f.w, ")\n")
	}
}

func (f *Formatter) Error(msg string) {
	f.endMeter()
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	f.endMeter()
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	f.endMeter()
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	f.endMeter()
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) endMeter() {
	if f.meterLine {
		fmt.Fprintln(f.w)
		f.meterLine = false
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

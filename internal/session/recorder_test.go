package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/persist"
	"github.com/tikhomirovv/voice-keyboard/internal/transcription"
	"github.com/tikhomirovv/voice-keyboard/internal/transcription/transcriptiontest"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RecordingsDir = t.TempDir()
	cfg.MaxDuration = 0
	cfg.WatchdogInterval = 10 * time.Millisecond
	cfg.FinalizeTimeout = 2 * time.Second
	cfg.TranscriptionEnabled = false
	return cfg
}

// withTranscription points cfg at a fake service replying every window samples
func withTranscription(t *testing.T, cfg Config, window int) Config {
	t.Helper()
	srv, err := transcriptiontest.NewServer(transcriptiontest.Config{Window: window}, newTestLogger())
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { srv.Close() })

	cfg.TranscriptionEnabled = true
	cfg.Transcription = transcriptionConfig(t, srv.Addr())
	return cfg
}

func transcriptionConfig(t *testing.T, addr string) transcription.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	tc := transcription.DefaultConfig()
	tc.Host = host
	tc.Port = port
	tc.DialTimeout = time.Second
	tc.DrainTimeout = 2 * time.Second
	return tc
}

func waitConnected(t *testing.T, r *Recorder) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats := r.GetStats()
		return stats.Current != nil && stats.Current.Transcription != nil &&
			stats.Current.Transcription.State == transcription.StateConnected.String()
	}, 2*time.Second, 5*time.Millisecond)
}

// waitSent blocks until the streamer has forwarded n chunks
func waitSent(t *testing.T, r *Recorder, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats := r.GetStats()
		return stats.Current != nil && stats.Current.Transcription != nil &&
			stats.Current.Transcription.ChunksSent == n
	}, 2*time.Second, 5*time.Millisecond)
}

func listRecordings(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestNormalCycle(t *testing.T) {
	cfg := withTranscription(t, testConfig(t), 3)
	opener := newFakeOpener()
	log := &eventLog{}
	r := NewRecorder(cfg, opener, log, newTestLogger(), nil)

	info, err := r.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Built-in Microphone", info.Device.Name)
	assert.Equal(t, StateActive.String(), info.State)
	assert.FileExists(t, info.Path)

	waitConnected(t, r)

	stream := opener.last()
	stream.push(audio.Chunk{1, 2, 3})
	stream.push(audio.Chunk{4, 5, 6})
	stream.push(audio.Chunk{7, 8, 9})

	transcript, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "window 1: 3 samples, peak 3\n"+
		"window 2: 3 samples, peak 6\n"+
		"window 3: 3 samples, peak 9\n"+
		"done: 9 samples\n", transcript)

	assert.True(t, stream.isClosed())

	samples, wavInfo, err := audio.ReadWAV(info.Path)
	require.NoError(t, err)
	assert.Equal(t, audio.Chunk{1, 2, 3, 4, 5, 6, 7, 8, 9}, samples)
	assert.Equal(t, 16000, wavInfo.SampleRate)

	lifecycle := log.lifecycle()
	require.Len(t, lifecycle, 3, log.String())
	assert.Equal(t, events.TypeStart, lifecycle[0].Type)
	assert.Equal(t, events.TypeStop, lifecycle[1].Type)
	assert.Equal(t, transcript, lifecycle[1].Data.(events.Stop).Transcript)
	assert.Equal(t, events.TypeComplete, lifecycle[2].Type)

	complete := lifecycle[2].Data.(events.Complete)
	assert.Equal(t, info.ID, complete.ID)
	assert.Equal(t, info.Path, complete.Path)

	_, live := r.Current()
	assert.False(t, live)

	stats := r.GetStats()
	assert.Equal(t, uint64(1), stats.SessionsStarted)
	assert.Equal(t, uint64(1), stats.SessionsStopped)
	require.NotNil(t, stats.Last)
	assert.Equal(t, uint64(9), stats.Last.File.Samples)
}

func TestExclusivity(t *testing.T) {
	r := NewRecorder(testConfig(t), newFakeOpener(), &eventLog{}, newTestLogger(), nil)

	first, err := r.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = r.Start(context.Background(), "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, events.CodeAlreadyRecording, CodeFor(err))

	current, live := r.Current()
	require.True(t, live)
	assert.Equal(t, first.ID, current.ID)

	_, err = r.Stop(context.Background())
	require.NoError(t, err)

	second, err := r.Start(context.Background(), device.HashName("USB Headset"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 48000, second.Device.SampleRate)

	_, err = r.Stop(context.Background())
	require.NoError(t, err)
}

func TestConcurrentStartsOneWins(t *testing.T) {
	r := NewRecorder(testConfig(t), newFakeOpener(), &eventLog{}, newTestLogger(), nil)
	defer r.Close(context.Background())

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, rejected := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Start(context.Background(), "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, ErrAlreadyRecording) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, rejected)
}

func TestStopIdempotent(t *testing.T) {
	log := &eventLog{}
	r := NewRecorder(testConfig(t), newFakeOpener(), log, newTestLogger(), nil)

	transcript, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", transcript)

	_, err = r.Start(context.Background(), "")
	require.NoError(t, err)

	_, err = r.Stop(context.Background())
	require.NoError(t, err)

	transcript, err = r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", transcript)

	assert.Equal(t, 1, log.count(events.TypeStop))
	assert.Equal(t, 1, log.count(events.TypeComplete))
}

func TestConcurrentStop(t *testing.T) {
	cfg := withTranscription(t, testConfig(t), 100)
	opener := newFakeOpener()
	log := &eventLog{}
	r := NewRecorder(cfg, opener, log, newTestLogger(), nil)

	_, err := r.Start(context.Background(), "")
	require.NoError(t, err)
	waitConnected(t, r)
	opener.last().push(audio.Chunk{1, 2})
	waitSent(t, r, 1)

	const callers = 10
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transcript, err := r.Stop(context.Background())
			assert.NoError(t, err)
			results <- transcript
		}()
	}
	wg.Wait()
	close(results)

	nonEmpty := 0
	for transcript := range results {
		if transcript != "" {
			nonEmpty++
			assert.Equal(t, "window 1: 2 samples, peak 2\ndone: 2 samples\n", transcript)
		}
	}
	assert.Equal(t, 1, nonEmpty)
	assert.Equal(t, 1, log.count(events.TypeStop))
	assert.Equal(t, 1, log.count(events.TypeComplete))
}

func TestWatchdogCutoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDuration = 50 * time.Millisecond
	log := &eventLog{}
	r := NewRecorder(cfg, newFakeOpener(), log, newTestLogger(), nil)

	_, err := r.Start(context.Background(), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.count(events.TypeStop) == 1 },
		2*time.Second, 5*time.Millisecond)

	_, live := r.Current()
	assert.False(t, live)

	// a user stop after the cutoff is a no-op
	transcript, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", transcript)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, log.count(events.TypeStop))
	assert.Equal(t, 1, log.count(events.TypeComplete))

	stats := r.GetStats()
	require.NotNil(t, stats.Last)
	assert.GreaterOrEqual(t, stats.Last.Info.ElapsedMs, int64(50))
}

func TestWatchdogExitsOnManualStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDuration = time.Hour
	log := &eventLog{}
	r := NewRecorder(cfg, newFakeOpener(), log, newTestLogger(), nil)

	_, err := r.Start(context.Background(), "")
	require.NoError(t, err)
	_, err = r.Stop(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, 1, log.count(events.TypeStop))
}

func TestUnreachableTranscription(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig(t)
	cfg.TranscriptionEnabled = true
	cfg.Transcription = transcriptionConfig(t, addr)

	opener := newFakeOpener()
	log := &eventLog{}
	r := NewRecorder(cfg, opener, log, newTestLogger(), nil)

	info, err := r.Start(context.Background(), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(log.errorCodes()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.ErrorCode{events.CodeConnectionError}, log.errorCodes())

	opener.last().push(audio.Chunk{1, 2, 3})

	transcript, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", transcript)
	assert.Equal(t, 1, log.count(events.TypeComplete))

	samples, _, err := audio.ReadWAV(info.Path)
	require.NoError(t, err)
	assert.Equal(t, audio.Chunk{1, 2, 3}, samples)
}

func TestStartFailuresLeaveNothingBehind(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		setup    func(o *fakeOpener)
		wantErr  error
		wantCode events.ErrorCode
	}{
		{
			name:     "unknown device",
			selector: "deadbeef",
			wantErr:  device.ErrDeviceNotFound,
			wantCode: events.CodeDeviceNotFound,
		},
		{
			name:     "no default device",
			setup:    func(o *fakeOpener) { o.devices = o.devices[1:] },
			wantErr:  device.ErrDeviceNotFound,
			wantCode: events.CodeDeviceNotFound,
		},
		{
			name:     "open fails",
			setup:    func(o *fakeOpener) { o.openErr = device.ErrDeviceConfig },
			wantErr:  device.ErrDeviceConfig,
			wantCode: events.CodeDeviceConfigError,
		},
		{
			name:     "start fails",
			setup:    func(o *fakeOpener) { o.startErr = errDriver },
			wantErr:  device.ErrDeviceConfig,
			wantCode: events.CodeDeviceConfigError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			opener := newFakeOpener()
			if tt.setup != nil {
				tt.setup(opener)
			}
			log := &eventLog{}
			r := NewRecorder(cfg, opener, log, newTestLogger(), nil)

			_, err := r.Start(context.Background(), tt.selector)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCode, CodeFor(err))

			_, live := r.Current()
			assert.False(t, live)
			assert.Empty(t, listRecordings(t, cfg.RecordingsDir))
			assert.Empty(t, log.lifecycle())
			if s := opener.last(); s != nil {
				assert.True(t, s.isClosed())
			}

			// the slot is free for the next attempt
			opener.openErr, opener.startErr = nil, nil
			opener.devices = newFakeOpener().devices
			_, err = r.Start(context.Background(), "")
			require.NoError(t, err)
			_, err = r.Stop(context.Background())
			require.NoError(t, err)
		})
	}
}

func TestStartFileError(t *testing.T) {
	cfg := testConfig(t)
	blocker := cfg.RecordingsDir + "/file"
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.RecordingsDir = blocker

	r := NewRecorder(cfg, newFakeOpener(), &eventLog{}, newTestLogger(), nil)
	_, err := r.Start(context.Background(), "")
	assert.ErrorIs(t, err, persist.ErrFileWrite)
	assert.Equal(t, events.CodeFileWriteError, CodeFor(err))
}

func TestCallbackPanicIsContained(t *testing.T) {
	s := newSession("panicky", device.Device{}, nil, newTestLogger(), nil)

	assert.NotPanics(t, func() { s.publish(audio.Chunk{1}) })
	assert.Equal(t, uint64(1), s.panics.Load())
}

func TestCloseWhileRecording(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDuration = time.Hour
	log := &eventLog{}
	r := NewRecorder(cfg, newFakeOpener(), log, newTestLogger(), nil)

	_, err := r.Start(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, log.count(events.TypeStop))
	_, live := r.Current()
	assert.False(t, live)
}

func TestStopForwardsQueuedAudio(t *testing.T) {
	cfg := withTranscription(t, testConfig(t), 3)
	opener := newFakeOpener()
	r := NewRecorder(cfg, opener, &eventLog{}, newTestLogger(), nil)

	info, err := r.Start(context.Background(), "")
	require.NoError(t, err)
	waitConnected(t, r)

	stream := opener.last()
	for i := 0; i < 200; i++ {
		stream.push(audio.Chunk{1, 2, 3})
	}

	// stop right away, with most chunks still queued for the service
	transcript, err := r.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 200, strings.Count(transcript, "samples, peak 3\n"))
	assert.True(t, strings.HasSuffix(transcript, "done: 600 samples\n"), transcript)

	samples, _, err := audio.ReadWAV(info.Path)
	require.NoError(t, err)
	assert.Len(t, samples, 600)
}

// stallingNotifier blocks progress notifications until released, holding the
// level meter inside its consumer loop
type stallingNotifier struct {
	eventLog
	stalled chan struct{}
	once    sync.Once
	release chan struct{}
}

func (n *stallingNotifier) Notify(e events.Event) {
	if e.Type == events.TypeProgress {
		n.once.Do(func() { close(n.stalled) })
		<-n.release
		return
	}
	n.eventLog.Notify(e)
}

func TestStopFinalizeTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.FinalizeTimeout = 200 * time.Millisecond
	notifier := &stallingNotifier{stalled: make(chan struct{}), release: make(chan struct{})}
	t.Cleanup(func() { close(notifier.release) })

	opener := newFakeOpener()
	r := NewRecorder(cfg, opener, notifier, newTestLogger(), nil)

	_, err := r.Start(context.Background(), "")
	require.NoError(t, err)

	opener.last().push(audio.Chunk{100, -200})
	select {
	case <-notifier.stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("meter never emitted progress")
	}

	started := time.Now()
	transcript, err := r.Stop(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transcript)
	assert.GreaterOrEqual(t, time.Since(started), cfg.FinalizeTimeout)
	assert.Less(t, time.Since(started), 2*time.Second)

	assert.Equal(t, []events.ErrorCode{events.CodeFinalizeTimeout}, notifier.errorCodes())
	assert.Equal(t, 1, notifier.count(events.TypeStop))

	_, live := r.Current()
	assert.False(t, live)
	assert.Equal(t, uint64(1), r.GetStats().SessionsStopped)
}

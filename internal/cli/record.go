package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/output"
	"github.com/tikhomirovv/voice-keyboard/internal/session"
)

type recordOptions struct {
	device          string
	maxDuration     time.Duration
	noTranscription bool
	showLevel       bool
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one take and print its transcript",
		Long:  "Record from the selected microphone until Ctrl+C or the maximum duration, save the WAV file and print the transcript received from the recognition service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("max-duration") {
				opts.maxDuration = deps.Config.Audio.GetMaxDuration()
			}
			return runRecord(ctx, deps, opts, output.NewFormatter(deps.Stdout))
		},
	}

	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Device ID (see 'voicekey devices'); default input when empty")
	cmd.Flags().DurationVarP(&opts.maxDuration, "max-duration", "m", 0, "Stop automatically after this long (0 disables)")
	cmd.Flags().BoolVar(&opts.noTranscription, "no-transcription", false, "Only record to file")
	cmd.Flags().BoolVar(&opts.showLevel, "level", true, "Show the input level while recording")

	return cmd
}

func runRecord(ctx context.Context, deps *Dependencies, opts recordOptions, formatter *output.Formatter) error {
	backend, err := deps.Backend(deps.Config, deps.Logger)
	if err != nil {
		return err
	}
	defer backend.Terminate()

	cfg := recorderConfig(deps.Config)
	cfg.MaxDuration = opts.maxDuration
	if opts.noTranscription {
		cfg.TranscriptionEnabled = false
	}

	hub := events.NewHub(deps.Logger)
	sink := events.NewChannelSink(256)
	detach := hub.Attach(sink)
	defer detach()

	recorder := session.NewRecorder(cfg, backend, hub, deps.Logger, nil)
	info, err := recorder.Start(ctx, opts.device)
	if err != nil {
		return err
	}
	formatter.RecordingStarted(info.ID, info.Device.Name, info.Path, cfg.MaxDuration)

	var transcript string
	for done := false; !done; {
		select {
		case <-ctx.Done():
			transcript, err = recorder.Stop(context.Background())
			if err != nil {
				return err
			}
			done = true
		case e := <-sink.C:
			if stopEvent, ok := e.Data.(events.Stop); ok {
				// stopped by the watchdog; wait for the teardown to finish
				transcript = stopEvent.Transcript
				if _, err := recorder.Stop(context.Background()); err != nil {
					return err
				}
				done = true
				continue
			}
			if e.Type != events.TypeProgress || opts.showLevel {
				formatter.Notification(e)
			}
		}
	}

	elapsed := time.Duration(0)
	if last := recorder.GetStats().Last; last != nil {
		elapsed = time.Duration(last.Info.ElapsedMs) * time.Millisecond
	}
	formatter.RecordingStopped(elapsed)

	// teardown has finished, so the remaining notifications are buffered
	drain(sink, formatter)

	if cfg.TranscriptionEnabled {
		formatter.Transcript(transcript)
	}
	return recorder.Close(context.Background())
}

func drain(sink *events.ChannelSink, formatter *output.Formatter) {
	for {
		select {
		case e := <-sink.C:
			if e.Type != events.TypeProgress && e.Type != events.TypeStop {
				formatter.Notification(e)
			}
		default:
			return
		}
	}
}

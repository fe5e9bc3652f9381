package cli

import (
	"errors"
	"log/slog"

	"github.com/tikhomirovv/voice-keyboard/internal/config"
	"github.com/tikhomirovv/voice-keyboard/internal/session"
	"github.com/tikhomirovv/voice-keyboard/internal/transcription"
)

// errNoBackend is returned by commands that need audio when no backend was wired
var errNoBackend = errors.New("no audio backend configured")

func missingBackend(*config.Config, *slog.Logger) (Backend, error) {
	return nil, errNoBackend
}

// recorderConfig maps file configuration onto the session recorder
func recorderConfig(cfg *config.Config) session.Config {
	return session.Config{
		RecordingsDir:        cfg.Audio.RecordingsDir,
		MaxWriteErrors:       cfg.Audio.MaxWriteErrors,
		BusCapacity:          cfg.Bus.Capacity,
		FileCapacity:         cfg.Bus.FileCapacity,
		ProgressInterval:     cfg.Audio.GetProgressInterval(),
		MaxDuration:          cfg.Audio.GetMaxDuration(),
		WatchdogInterval:     cfg.Audio.GetWatchdogInterval(),
		FinalizeTimeout:      cfg.Session.GetFinalizeTimeout(),
		TranscriptionEnabled: cfg.Transcription.Enabled,
		Transcription: transcription.Config{
			Host:         cfg.Transcription.Host,
			Port:         cfg.Transcription.Port,
			DialTimeout:  cfg.Transcription.GetDialTimeout(),
			WriteTimeout: cfg.Transcription.GetWriteTimeout(),
			DrainTimeout: cfg.Transcription.GetDrainTimeout(),
			MaxLineSize:  cfg.Transcription.MaxLineSize,
			Debug:        cfg.Transcription.Debug,
		},
	}
}

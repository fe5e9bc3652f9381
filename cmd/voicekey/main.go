package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tikhomirovv/voice-keyboard/internal/cli"
	"github.com/tikhomirovv/voice-keyboard/internal/config"
	"github.com/tikhomirovv/voice-keyboard/internal/device/portaudio"
	"github.com/tikhomirovv/voice-keyboard/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	deps := &cli.Dependencies{
		Backend: openPortAudio,
	}

	return cli.NewRootCmd(deps).Execute()
}

// openPortAudio initializes PortAudio with the configured capture format
func openPortAudio(cfg *config.Config, logger *slog.Logger) (cli.Backend, error) {
	driver := portaudio.New(portaudio.Config{
		Format:          cfg.Audio.GetCaptureFormat(),
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
	}, logger)

	if err := driver.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing audio: %w", err)
	}
	return driver, nil
}

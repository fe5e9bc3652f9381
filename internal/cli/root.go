package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tikhomirovv/voice-keyboard/internal/config"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/version"
)

const defaultConfigPath = "configs/config.yaml"

// Backend is an initialized device layer that must be terminated after use
type Backend interface {
	device.Opener
	Terminate() error
}

// BackendFactory initializes the device layer
type BackendFactory func(cfg *config.Config, logger *slog.Logger) (Backend, error)

type Dependencies struct {
	Backend BackendFactory
	Stdout  io.Writer
	Stderr  io.Writer

	// populated by the root command before any subcommand runs
	ConfigPath string
	Config     *config.Config
	Logger     *slog.Logger
	closeLog   func() error
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Backend == nil {
		deps.Backend = missingBackend
	}

	rootCmd := &cobra.Command{
		Use:           "voicekey",
		Short:         "Record speech, save it and transcribe it on the fly",
		Long:          "A recorder that captures a microphone, writes the take to a WAV file and streams it to a speech recognition service, returning the transcript when recording stops.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, deps)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if deps.closeLog != nil {
				return deps.closeLog()
			}
			return nil
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.SetOut(deps.Stdout)
	rootCmd.SetErr(deps.Stderr)

	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewVersionCmd(deps))

	return rootCmd
}

// loadConfig reads the config file. A missing file at the default location
// falls back to built-in defaults; an explicitly requested one must exist.
func loadConfig(cmd *cobra.Command, deps *Dependencies) error {
	cfg, err := config.Load(deps.ConfigPath)
	if err != nil {
		explicit := cmd.Flags().Changed("config")
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading config: %w", err)
		}

		cfg = config.Default()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	deps.Config = cfg

	logger, closeLog, err := newLogger(cfg.Logging, deps.Stderr)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	deps.Logger = logger
	deps.closeLog = closeLog

	return nil
}

// Command fakewhisper is a stand-in recognition service for local testing.
// It answers every window of received audio with a line describing it.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tikhomirovv/voice-keyboard/internal/transcription/transcriptiontest"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		address string
		window  int
	)

	cmd := &cobra.Command{
		Use:           "fakewhisper",
		Short:         "Run a stand-in speech recognition service",
		Long:          "Listen for raw little-endian 16-bit audio and reply with one text line per window of samples, plus a summary line when the client closes its side.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window < 1 {
				return fmt.Errorf("window must be at least 1, got %d", window)
			}

			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

			server, err := transcriptiontest.NewServer(transcriptiontest.Config{
				Address: address,
				Window:  window,
			}, logger)
			if err != nil {
				return fmt.Errorf("starting server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server.Start()
			logger.Info("Fake transcription service listening",
				slog.String("address", server.Addr()),
				slog.Int("window", window))

			<-ctx.Done()

			if err := server.Close(); err != nil {
				logger.Error("Error closing server", slog.String("error", err.Error()))
			}
			logger.Info("Stopped",
				slog.Int64("connections", server.Connections()),
				slog.Int64("samples", server.Samples()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:43001", "Listen address")
	cmd.Flags().IntVarP(&window, "window", "w", transcriptiontest.DefaultWindow, "Samples per reply line")

	return cmd
}

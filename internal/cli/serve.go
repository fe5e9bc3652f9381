package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
	"github.com/tikhomirovv/voice-keyboard/internal/server"
	"github.com/tikhomirovv/voice-keyboard/internal/session"
	"github.com/tikhomirovv/voice-keyboard/internal/version"
)

const shutdownTimeout = 10 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording service with the HTTP control API",
		Long:  "Run the recorder as a long-lived service. Recordings are started and stopped over HTTP and notifications are streamed on /events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, deps, nil)
		},
	}

	return cmd
}

// runServe blocks until ctx is cancelled. ready, when set, receives the
// bound API address once the server is listening.
func runServe(ctx context.Context, deps *Dependencies, ready chan<- string) error {
	cfg, logger := deps.Config, deps.Logger

	if !cfg.HTTP.Enabled {
		return fmt.Errorf("serve requires http.enabled in %s", deps.ConfigPath)
	}

	logger.Info("Service starting",
		slog.String("service", "voicekey"),
		slog.String("version", version.Version),
		slog.String("config_path", deps.ConfigPath),
	)

	logger.Info("Configuration loaded",
		slog.String("capture_format", cfg.Audio.CaptureFormat),
		slog.String("recordings_dir", cfg.Audio.RecordingsDir),
		slog.Duration("max_duration", cfg.Audio.GetMaxDuration()),
		slog.Bool("transcription_enabled", cfg.Transcription.Enabled),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint()),
		slog.String("log_level", cfg.Logging.Level),
	)

	backend, err := deps.Backend(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Terminate(); err != nil {
			logger.Warn("Failed to release audio backend", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)
	logger.Info("Prometheus metrics initialized")

	hub := events.NewHub(logger)
	recorder := session.NewRecorder(recorderConfig(cfg), backend, hub, logger, appMetrics)

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, server.Dependencies{
		Config:   cfg,
		Recorder: recorder,
		Devices:  backend,
		Hub:      hub,
		Metrics:  appMetrics,
		Gatherer: reg,
		Version:  version.Version,
	})

	if err := httpServer.Start(); err != nil {
		return err
	}
	if ready != nil {
		ready <- httpServer.Addr()
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", httpServer.Addr()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop accepting requests before tearing down a live recording
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error("Error stopping recorder", slog.String("error", err.Error()))
	}

	stats := recorder.GetStats()
	hubStats := hub.GetStats()
	logger.Info("Service stopped",
		slog.Uint64("sessions_started", stats.SessionsStarted),
		slog.Uint64("sessions_stopped", stats.SessionsStopped),
		slog.Uint64("notifications_delivered", hubStats.Delivered),
	)

	return nil
}

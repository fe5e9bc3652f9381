package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tikhomirovv/voice-keyboard/internal/config"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
	"github.com/tikhomirovv/voice-keyboard/internal/events"
	"github.com/tikhomirovv/voice-keyboard/internal/metrics"
	"github.com/tikhomirovv/voice-keyboard/internal/session"
)

// Recorder is the session registry driven by the API
type Recorder interface {
	Start(ctx context.Context, selector string) (session.SessionInfo, error)
	Stop(ctx context.Context) (string, error)
	Current() (session.SessionInfo, bool)
	GetStats() session.RecorderStats
}

// DeviceLister enumerates input devices
type DeviceLister interface {
	Devices() ([]device.Device, error)
}

// Dependencies are the components served by the API
type Dependencies struct {
	Config   *config.Config
	Recorder Recorder
	Devices  DeviceLister
	Hub      *events.Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Version  string
}

// HTTPServer provides HTTP API endpoints for recording control and monitoring
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	deps     Dependencies
	handler  http.Handler

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Code    events.ErrorCode `json:"code"`
	CodeStr string           `json:"codeStr"`
	Message string           `json:"message"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps Dependencies) *HTTPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}

	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:        net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/devices", h.withMetrics("/devices", h.handleDevices))

	// Recording control
	mux.HandleFunc("/record/start", h.withMetrics("/record/start", h.handleRecordStart))
	mux.HandleFunc("/record/stop", h.withMetrics("/record/stop", h.handleRecordStop))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// The WebSocket upgrade needs the raw ResponseWriter, so no metrics wrapper
	mux.HandleFunc("/events", h.handleEvents)

	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded
func (h *HTTPServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code events.ErrorCode, err error) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		CodeStr: code.String(),
		Message: err.Error(),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) bool {
	if r.Method == allowed {
		return false
	}
	w.Header().Set("Allow", allowed)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return true
}

// statusFor maps a recorder error to an HTTP status
func statusFor(err error) int {
	switch session.CodeFor(err) {
	case events.CodeAlreadyRecording:
		return http.StatusConflict
	case events.CodeDeviceNotFound:
		return http.StatusNotFound
	case events.CodeDeviceConfigError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	_, recording := h.deps.Recorder.Current()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "voicekey",
			"version": h.deps.Version,
		},
		"recording":      recording,
		"event_channels": h.deps.Hub.GetStats().Sinks,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleDevices implements the /devices endpoint
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	devices, err := h.deps.Devices.Devices()
	if err != nil {
		h.logger.Error("Failed to list devices", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, events.CodeDeviceConfigError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_devices": len(devices),
		"devices":       devices,
	})
}

// handleRecordStart implements POST /record/start?device=<id>
func (h *HTTPServer) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}

	selector := r.URL.Query().Get("device")
	info, err := h.deps.Recorder.Start(r.Context(), selector)
	if err != nil {
		writeError(w, statusFor(err), session.CodeFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// handleRecordStop implements POST /record/stop
func (h *HTTPServer) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}

	info, live := h.deps.Recorder.Current()

	transcript, err := h.deps.Recorder.Stop(r.Context())
	if err != nil {
		writeError(w, statusFor(err), session.CodeFor(err), err)
		return
	}

	response := map[string]interface{}{
		"stopped":    live,
		"transcript": transcript,
	}
	if live {
		response["session_id"] = info.ID
		response["path"] = info.Path
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	info, live := h.deps.Recorder.Current()
	if !live {
		writeJSON(w, http.StatusOK, map[string]interface{}{"recording": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recording": true,
		"session":   info,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"recorder":  h.deps.Recorder.GetStats(),
		"events":    h.deps.Hub.GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	cfg := h.deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	response := map[string]interface{}{
		"audio": map[string]interface{}{
			"capture_format":       cfg.Audio.CaptureFormat,
			"frames_per_buffer":    cfg.Audio.FramesPerBuffer,
			"recordings_dir":       cfg.Audio.RecordingsDir,
			"max_duration":         cfg.Audio.MaxDuration,
			"watchdog_interval":    cfg.Audio.WatchdogInterval,
			"progress_interval_ms": cfg.Audio.ProgressIntervalMs,
			"max_write_errors":     cfg.Audio.MaxWriteErrors,
		},
		"bus": map[string]interface{}{
			"capacity":      cfg.Bus.Capacity,
			"file_capacity": cfg.Bus.FileCapacity,
		},
		"session": map[string]interface{}{
			"finalize_timeout": cfg.Session.FinalizeTimeout,
		},
		"transcription": map[string]interface{}{
			"enabled":       cfg.Transcription.Enabled,
			"endpoint":      cfg.Transcription.Endpoint(),
			"dial_timeout":  cfg.Transcription.DialTimeout,
			"write_timeout": cfg.Transcription.WriteTimeout,
			"drain_timeout": cfg.Transcription.DrainTimeout,
			"debug":         cfg.Transcription.Debug,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "voicekey",
		"version": h.deps.Version,
		"endpoints": map[string]interface{}{
			"GET /":                      "API documentation",
			"GET /health":                "Service health check",
			"GET /devices":               "List input devices",
			"POST /record/start?device=": "Start recording (default device when empty)",
			"POST /record/stop":          "Stop recording and return the transcript",
			"GET /session":               "Current recording session",
			"GET /stats":                 "Recorder statistics",
			"GET /config":                "Service configuration",
			"GET /events":                "WebSocket notification feed",
			"GET /metrics":               "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice keyboard service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted      prometheus.Counter
	SessionStartFailures *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	SessionDuration      prometheus.Histogram
	WatchdogStops        prometheus.Counter
	FinalizeTimeouts     prometheus.Counter
	CallbackPanics       prometheus.Counter

	// Distribution bus metrics
	ChunksPublished prometheus.Counter
	ChunksDropped   *prometheus.CounterVec

	// File persistence metrics
	SamplesWritten  prometheus.Counter
	FileWriteErrors prometheus.Counter

	// Level meter metrics
	ProgressEmitted prometheus.Counter
	PeakLevel       prometheus.Gauge

	// Transcription streamer metrics
	StreamerConnected     prometheus.Gauge
	StreamerBytesSent     prometheus.Counter
	StreamerLinesReceived prometheus.Counter
	StreamerErrors        *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionStartFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicekey_session_start_failures_total",
			Help: "Total number of failed session starts by reason",
		}, []string{"reason"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicekey_active_sessions",
			Help: "Number of recording sessions currently active (0 or 1)",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicekey_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		WatchdogStops: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_watchdog_stops_total",
			Help: "Total number of sessions stopped by the duration watchdog",
		}),
		FinalizeTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_finalize_timeouts_total",
			Help: "Total number of stops that gave up waiting for consumers",
		}),
		CallbackPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_capture_callback_panics_total",
			Help: "Total number of panics recovered in the capture callback",
		}),

		// Distribution bus metrics
		ChunksPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_bus_chunks_published_total",
			Help: "Total number of chunks published by the capture callback",
		}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicekey_bus_chunks_dropped_total",
			Help: "Total number of chunks dropped because a subscriber lagged",
		}, []string{"subscriber"}),

		// File persistence metrics
		SamplesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_samples_written_total",
			Help: "Total number of samples appended to recording files",
		}),
		FileWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_file_write_errors_total",
			Help: "Total number of failed appends to recording files",
		}),

		// Level meter metrics
		ProgressEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_progress_notifications_total",
			Help: "Total number of level progress notifications emitted",
		}),
		PeakLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicekey_peak_level",
			Help: "Most recently emitted peak level",
		}),

		// Transcription streamer metrics
		StreamerConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicekey_streamer_connected",
			Help: "Whether the transcription connection is established",
		}),
		StreamerBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_streamer_bytes_sent_total",
			Help: "Total number of sample bytes sent to the transcription service",
		}),
		StreamerLinesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicekey_streamer_lines_received_total",
			Help: "Total number of transcript lines received",
		}),
		StreamerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicekey_streamer_errors_total",
			Help: "Total number of transcription streamer errors by code",
		}, []string{"code"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicekey_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicekey_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicekey_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted records a session that began capturing
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Set(1)
}

// RecordSessionStartFailure records a failed start attempt
func (m *Metrics) RecordSessionStartFailure(reason string) {
	if m == nil {
		return
	}
	m.SessionStartFailures.WithLabelValues(reason).Inc()
}

// RecordSessionStopped records the end of a session and its duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(0)
	m.SessionDuration.Observe(durationSeconds)
}

// RecordWatchdogStop increments the watchdog stop counter
func (m *Metrics) RecordWatchdogStop() {
	if m == nil {
		return
	}
	m.WatchdogStops.Inc()
}

// RecordFinalizeTimeout increments the finalize timeout counter
func (m *Metrics) RecordFinalizeTimeout() {
	if m == nil {
		return
	}
	m.FinalizeTimeouts.Inc()
}

// RecordCallbackPanic increments the recovered panic counter
func (m *Metrics) RecordCallbackPanic() {
	if m == nil {
		return
	}
	m.CallbackPanics.Inc()
}

// RecordChunkPublished increments the published chunks counter
func (m *Metrics) RecordChunkPublished() {
	if m == nil {
		return
	}
	m.ChunksPublished.Inc()
}

// RecordChunksDropped records chunks a subscriber lost to lag
func (m *Metrics) RecordChunksDropped(subscriber string, count uint64) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(subscriber).Add(float64(count))
}

// RecordSamplesWritten records samples appended to a recording
func (m *Metrics) RecordSamplesWritten(count int) {
	if m == nil {
		return
	}
	m.SamplesWritten.Add(float64(count))
}

// RecordFileWriteError increments the file write error counter
func (m *Metrics) RecordFileWriteError() {
	if m == nil {
		return
	}
	m.FileWriteErrors.Inc()
}

// RecordProgress records an emitted progress notification
func (m *Metrics) RecordProgress(peak int) {
	if m == nil {
		return
	}
	m.ProgressEmitted.Inc()
	m.PeakLevel.Set(float64(peak))
}

// SetStreamerConnected sets the streamer connection gauge
func (m *Metrics) SetStreamerConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.StreamerConnected.Set(1)
	} else {
		m.StreamerConnected.Set(0)
	}
}

// RecordStreamerSent records bytes written to the transcription service
func (m *Metrics) RecordStreamerSent(bytes int) {
	if m == nil {
		return
	}
	m.StreamerBytesSent.Add(float64(bytes))
}

// RecordStreamerLine increments the received lines counter
func (m *Metrics) RecordStreamerLine() {
	if m == nil {
		return
	}
	m.StreamerLinesReceived.Inc()
}

// RecordStreamerError records a streamer error by code
func (m *Metrics) RecordStreamerError(code string) {
	if m == nil {
		return
	}
	m.StreamerErrors.WithLabelValues(code).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// Package metrics defines the Prometheus collectors for the recorder, its
// consumers, the transcription streamer and the HTTP API.
package metrics

// Package server implements the HTTP control API. It starts and stops
// recordings, lists input devices, reports statistics and streams lifecycle
// notifications to WebSocket clients.
package server

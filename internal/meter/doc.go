// Package meter implements the input level consumer. It computes a rectified
// peak for every chunk and emits throttled progress notifications.
package meter

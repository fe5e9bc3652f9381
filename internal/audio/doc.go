// Package audio defines the canonical sample representation used across the
// recorder, the conversions from driver-native capture formats, and helpers for
// inspecting finished mono PCM WAV recordings.
package audio

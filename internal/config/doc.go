// Package config provides configuration loading and validation for the
// recording service. Configuration is read from YAML on top of built-in
// defaults, then the WHISPER_HOST and WHISPER_PORT environment variables are
// applied to the transcription endpoint.
package config

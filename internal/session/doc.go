// Package session owns the lifecycle of a recording. A Recorder allows at most
// one live session; each session wires a capture stream through the chunk bus
// into the file writer, the level meter and the transcription streamer, and a
// watchdog stops it once the maximum duration is reached.
package session

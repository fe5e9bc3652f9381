// Package transcription implements the TCP streaming client for the speech
// recognition service. Raw little-endian samples are written to the socket
// while newline-delimited text replies are accumulated into a transcript that
// is handed back when the stream is closed.
package transcription

// Package protocol implements the transcription wire format.
// The outbound direction carries raw little-endian 16-bit samples with no framing.
// The inbound direction carries UTF-8 transcript fragments, one per newline-terminated line.
package protocol

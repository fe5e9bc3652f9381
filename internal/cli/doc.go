// Package cli wires the recorder into the voicekey command line: a long-lived
// HTTP service, one-shot recording and device listing.
package cli

// Package device resolves audio input devices by a stable hashed identifier and
// defines the capture stream contract. Driver-native samples are converted to
// the canonical sample type inside the capture callback; see the portaudio
// subpackage for the system backend.
package device

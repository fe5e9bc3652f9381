// Package portaudio enumerates input devices and opens capture streams through
// the system PortAudio library. It is the only package that needs cgo.
package portaudio

// Package persist implements the recording file consumer. It appends every
// chunk received from its bus subscription to a growable mono PCM WAV file,
// finalizes the header when the producer goes away, and announces the result
// through a completion slot.
package persist

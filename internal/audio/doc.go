// Package audio handles format conversion for the fan-out stream.
// It owns the preallocated conversion buffers, turns float sample blocks into
// wire bytes (raw float32, 16-bit PCM or a pluggable codec) and synthesizes
// the streaming WAV header sent to each new listener.
package audio

package audio

import "errors"

var (
	// ErrCapacity is returned when a block holds more samples than the
	// conversion buffers were sized for.
	ErrCapacity = errors.New("audio: block exceeds buffer capacity")

	// ErrChannelMismatch is returned when a block does not match the
	// configured channel mode or its channels differ in length.
	ErrChannelMismatch = errors.New("audio: block does not match channel layout")

	// ErrNoCodec is returned when PCM is delivered to a compressed stream
	// without a codec.
	ErrNoCodec = errors.New("audio: no codec configured for compressed format")

	// ErrReleased is returned after the buffers have been released
	ErrReleased = errors.New("audio: buffers released")
)

package audio

import (
	"fmt"
)

// Buffers holds the conversion buffers of one stream. They are sized once
// and never grow; a block larger than their capacity is rejected.
type Buffers struct {
	stereo []float32 // interleaved L/R samples, nil for mono
	pcm    []int16   // 16-bit PCM samples, nil unless the format is WAV
	wire   []byte    // encoded bytes handed to the sender

	maxSamplesPerChannel int
	mode                 ChannelMode
}

// AllocateBuffers creates zero-filled conversion buffers for blocks of at most
// maxSamplesPerChannel samples per channel.
func AllocateBuffers(maxSamplesPerChannel int, mode ChannelMode, format Format) (*Buffers, error) {
	if maxSamplesPerChannel <= 0 {
		return nil, fmt.Errorf("max samples per channel must be positive, got %d", maxSamplesPerChannel)
	}

	channels := mode.Channels()
	b := &Buffers{
		maxSamplesPerChannel: maxSamplesPerChannel,
		mode:                 mode,
	}

	if mode == Stereo {
		b.stereo = make([]float32, 2*maxSamplesPerChannel)
	}

	wireSize := maxSamplesPerChannel * channels * 4 // float32 pass-through
	if format.NeedsPCM() {
		b.pcm = make([]int16, maxSamplesPerChannel*channels)
		wireSize = len(b.pcm) * 2
	}
	b.wire = make([]byte, wireSize)

	return b, nil
}

// Release drops the buffers. It is safe to call more than once.
func (b *Buffers) Release() {
	if b == nil {
		return
	}
	b.stereo = nil
	b.pcm = nil
	b.wire = nil
	b.maxSamplesPerChannel = 0
}

// Released reports whether Release has been called
func (b *Buffers) Released() bool {
	return b == nil || b.wire == nil
}

// StereoCapacity returns the interleave buffer length in samples
func (b *Buffers) StereoCapacity() int {
	return len(b.stereo)
}

// PCMCapacity returns the PCM buffer length in samples
func (b *Buffers) PCMCapacity() int {
	return len(b.pcm)
}

// MaxSamplesPerChannel returns the per-channel sample limit of a block
func (b *Buffers) MaxSamplesPerChannel() int {
	return b.maxSamplesPerChannel
}

package audio

import (
	"fmt"
)

// Codec compresses interleaved float samples. Encode appends the encoded
// bytes for one block to dst and returns the extended slice.
type Codec interface {
	Encode(dst []byte, samples []float32, channels int) ([]byte, error)
}

// Pipeline turns delivered blocks into the bytes sent to every session.
// It writes only into the Buffers it was built with, so the returned slice is
// valid until the next Encode call.
type Pipeline struct {
	format Format
	mode   ChannelMode
	bufs   *Buffers
	codec  Codec
	header []byte
}

// NewPipeline creates a pipeline for the given stream layout. codec may be nil.
func NewPipeline(format Format, mode ChannelMode, bufs *Buffers, codec Codec) *Pipeline {
	p := &Pipeline{
		format: format,
		mode:   mode,
		bufs:   bufs,
		codec:  codec,
	}
	if format.NeedsHeader() {
		p.header = StreamHeader(mode.Channels(), WaveRate)
	}
	return p
}

// Header returns the framing header each session must receive first, or nil
// when the format is not framed.
func (p *Pipeline) Header() []byte {
	return p.header
}

// EncodeMono converts a mono block
func (p *Pipeline) EncodeMono(samples []float32) ([]byte, error) {
	if p.bufs.Released() {
		return nil, ErrReleased
	}
	if p.mode != Mono {
		return nil, fmt.Errorf("%w: mono block on %s stream", ErrChannelMismatch, p.mode)
	}
	if len(samples) > p.bufs.MaxSamplesPerChannel() {
		return nil, fmt.Errorf("%w: %d samples, capacity %d", ErrCapacity, len(samples), p.bufs.MaxSamplesPerChannel())
	}
	return p.encode(samples)
}

// EncodeStereo interleaves left and right into the stereo buffer and converts
// the result as one two-channel block.
func (p *Pipeline) EncodeStereo(left, right []float32) ([]byte, error) {
	if p.bufs.Released() {
		return nil, ErrReleased
	}
	if p.mode != Stereo || len(left) != len(right) {
		return nil, fmt.Errorf("%w: left=%d right=%d mode=%s", ErrChannelMismatch, len(left), len(right), p.mode)
	}
	if 2*len(left) > p.bufs.StereoCapacity() {
		return nil, fmt.Errorf("%w: %d samples per channel, capacity %d", ErrCapacity, len(left), p.bufs.StereoCapacity()/2)
	}

	interleaved := p.bufs.stereo[:2*len(left)]
	Interleave(interleaved, left, right)
	return p.encode(interleaved)
}

// encode converts an already interleaved block into wire bytes
func (p *Pipeline) encode(samples []float32) ([]byte, error) {
	switch p.format {
	case FormatWAV:
		if len(samples) > p.bufs.PCMCapacity() {
			return nil, fmt.Errorf("%w: %d samples, PCM capacity %d", ErrCapacity, len(samples), p.bufs.PCMCapacity())
		}
		n := ConvertPCM16(p.bufs.pcm, samples)
		size := PutInt16LE(p.bufs.wire, p.bufs.pcm[:n])
		return p.bufs.wire[:size], nil

	case FormatCompressed:
		if p.codec == nil {
			return nil, ErrNoCodec
		}
		out, err := p.codec.Encode(p.bufs.wire[:0], samples, p.mode.Channels())
		if err != nil {
			return nil, fmt.Errorf("codec encode failed: %w", err)
		}
		return out, nil

	default:
		size := PutFloat32LE(p.bufs.wire, samples)
		if size == 0 && len(samples) > 0 {
			return nil, fmt.Errorf("%w: %d samples do not fit wire buffer", ErrCapacity, len(samples))
		}
		return p.bufs.wire[:size], nil
	}
}

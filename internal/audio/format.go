package audio

import (
	"fmt"
	"strings"
)

// WaveRate is the sample rate of every block handed to the fan-out engine.
const WaveRate = 8000

// Format selects how a float block becomes bytes on the wire
type Format int

const (
	// FormatRaw sends little-endian float32 samples unchanged
	FormatRaw Format = iota
	// FormatWAV sends 16-bit PCM preceded by a streaming WAV header
	FormatWAV
	// FormatCompressed sends codec output or externally encoded bytes
	FormatCompressed
)

// ChannelMode is the channel layout of delivered blocks
type ChannelMode int

const (
	// Mono delivers one channel per block
	Mono ChannelMode = iota
	// Stereo delivers left and right channels per block
	Stereo
)

// ParseFormat converts a configuration string into a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "pcm", "f32le":
		return FormatRaw, nil
	case "wav":
		return FormatWAV, nil
	case "compressed", "mp3":
		return FormatCompressed, nil
	default:
		return FormatRaw, fmt.Errorf("unknown stream format %q", s)
	}
}

// String returns the configuration name of the format
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatWAV:
		return "wav"
	case FormatCompressed:
		return "compressed"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// NeedsHeader reports whether each session must receive a framing header
// before its first payload.
func (f Format) NeedsHeader() bool {
	return f == FormatWAV
}

// NeedsPCM reports whether blocks are converted to 16-bit PCM
func (f Format) NeedsPCM() bool {
	return f == FormatWAV
}

// BytesPerSample returns the encoded size of one sample, or 0 when the
// format has no fixed sample size.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatRaw:
		return 4
	case FormatWAV:
		return 2
	default:
		return 0
	}
}

// ParseChannelMode converts a configuration string into a ChannelMode
func ParseChannelMode(s string) (ChannelMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mono", "1":
		return Mono, nil
	case "stereo", "2":
		return Stereo, nil
	default:
		return Mono, fmt.Errorf("unknown channel mode %q", s)
	}
}

// Channels returns the number of interleaved channels for the mode
func (m ChannelMode) Channels() int {
	if m == Stereo {
		return 2
	}
	return 1
}

// String returns the configuration name of the channel mode
func (m ChannelMode) String() string {
	if m == Stereo {
		return "stereo"
	}
	return "mono"
}

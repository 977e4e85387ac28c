package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/yegors/RTLSDR-Airband/internal/audio"
)

// Protocol constants
const (
	// Packet types
	PacketTypeAudio   = 0x02 // float32 samples
	PacketTypeEncoded = 0x03 // already encoded stream bytes

	// Channel counts
	ChannelsMono   = 0x01
	ChannelsStereo = 0x02

	// Packet structure sizes
	HeaderSize    = 8 // 1 + 2 + 4 + 1 bytes
	SampleSize    = 4 // float32
	MaxPacketSize = math.MaxUint16
)

// Header represents the 8-byte ingest packet header
// Layout: [PacketType:1][PacketLen:2][Sequence:4][Channels:1]
type Header struct {
	PacketType uint8  // 0x02=Audio, 0x03=Encoded
	PacketLen  uint16 // Total packet size (header + payload)
	Sequence   uint32 // Packet sequence number
	Channels   uint8  // 0x01=Mono, 0x02=Stereo
}

// AudioPayload is the sample data of an audio packet. Stereo payloads carry
// every left sample followed by every right sample.
type AudioPayload struct {
	Channels int
	Data     []byte // references the packet buffer
}

// ParsedPacket represents a fully parsed ingest packet
type ParsedPacket struct {
	Header  *Header
	Audio   *AudioPayload // Only set for audio packets
	Encoded []byte        // Only set for encoded packets; references the packet buffer
}

// ParseHeader parses the 8-byte ingest packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		Sequence:   binary.BigEndian.Uint32(data[3:7]),
		Channels:   data[7],
	}

	return header, nil
}

// ParsePacket parses a complete ingest packet (header + payload). Payload
// slices reference data, which must not be reused while they are in use.
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeAudio:
		packet.Audio = &AudioPayload{
			Channels: int(header.Channels),
			Data:     payloadData,
		}

	case PacketTypeEncoded:
		packet.Encoded = payloadData

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidChannels(header.Channels) {
		return fmt.Errorf("invalid channel count: 0x%02x", header.Channels)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	if header.PacketType == PacketTypeAudio {
		payloadSize := int(header.PacketLen) - HeaderSize
		frame := SampleSize * int(header.Channels)
		if payloadSize%frame != 0 {
			return fmt.Errorf("audio payload size %d is not a multiple of %d", payloadSize, frame)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeAudio || ptype == PacketTypeEncoded
}

// IsValidChannels checks if the channel count is valid
func IsValidChannels(ch uint8) bool {
	return ch == ChannelsMono || ch == ChannelsStereo
}

// SamplesPerChannel returns the number of samples each channel carries
func (a *AudioPayload) SamplesPerChannel() int {
	if a.Channels == 0 {
		return 0
	}
	return len(a.Data) / (SampleSize * a.Channels)
}

// Decode decodes the payload into left and, for stereo, right. The slices are
// reused when large enough. right is returned empty for mono payloads.
func (a *AudioPayload) Decode(left, right []float32) ([]float32, []float32) {
	n := a.SamplesPerChannel()
	left = audio.DecodeFloat32LE(left, a.Data[:n*SampleSize])
	if a.Channels == ChannelsStereo {
		right = audio.DecodeFloat32LE(right, a.Data[n*SampleSize:2*n*SampleSize])
	} else {
		right = right[:0]
	}
	return left, right
}

// AppendHeader appends the encoded header to dst
func (h *Header) AppendHeader(dst []byte) []byte {
	dst = append(dst, h.PacketType)
	dst = binary.BigEndian.AppendUint16(dst, h.PacketLen)
	dst = binary.BigEndian.AppendUint32(dst, h.Sequence)
	return append(dst, h.Channels)
}

// MarshalAudio builds an audio packet. right must be nil for mono or match
// left in length.
func MarshalAudio(sequence uint32, left, right []float32) ([]byte, error) {
	channels := uint8(ChannelsMono)
	if right != nil {
		if len(right) != len(left) {
			return nil, fmt.Errorf("channel length mismatch: left=%d right=%d", len(left), len(right))
		}
		channels = ChannelsStereo
	}

	size := HeaderSize + SampleSize*(len(left)+len(right))
	if size > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	h := Header{
		PacketType: PacketTypeAudio,
		PacketLen:  uint16(size),
		Sequence:   sequence,
		Channels:   channels,
	}

	buf := h.AppendHeader(make([]byte, 0, size))
	for _, v := range left {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	for _, v := range right {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf, nil
}

// MarshalEncoded builds an encoded-bytes packet
func MarshalEncoded(sequence uint32, channels uint8, payload []byte) ([]byte, error) {
	size := HeaderSize + len(payload)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	h := Header{
		PacketType: PacketTypeEncoded,
		PacketLen:  uint16(size),
		Sequence:   sequence,
		Channels:   channels,
	}
	return append(h.AppendHeader(make([]byte, 0, size)), payload...), nil
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeEncoded:
		packetType = "Encoded"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, Sequence:%d, Channels:%d}",
		packetType, h.PacketLen, h.Sequence, h.Channels)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Channels:%d, SamplesPerChannel:%d}", a.Channels, a.SamplesPerChannel())
}

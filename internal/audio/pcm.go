package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 clamps x to [-1, 1] and scales it to a 16-bit sample.
// Out-of-range input clips instead of wrapping.
func Float32ToInt16(x float32) int16 {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}

	// 32767 on both sides keeps the scale symmetric
	return int16(x * 32767.0)
}

// ConvertPCM16 converts src into dst and returns the number of samples
// written. dst must hold at least len(src) samples.
func ConvertPCM16(dst []int16, src []float32) int {
	if len(src) > len(dst) {
		return 0
	}
	for i, v := range src {
		dst[i] = Float32ToInt16(v)
	}
	return len(src)
}

// Interleave writes left[i] to dst[2i] and right[i] to dst[2i+1]. It returns
// false without touching dst when the channels differ in length or dst is too
// small.
func Interleave(dst, left, right []float32) bool {
	if len(left) != len(right) || 2*len(left) > len(dst) {
		return false
	}
	for i := range left {
		dst[2*i] = left[i]
		dst[2*i+1] = right[i]
	}
	return true
}

// PutFloat32LE encodes samples as little-endian IEEE-754 into dst and returns
// the number of bytes written.
func PutFloat32LE(dst []byte, samples []float32) int {
	if len(dst) < 4*len(samples) {
		return 0
	}
	for i, v := range samples {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
	return 4 * len(samples)
}

// PutInt16LE encodes samples as little-endian 16-bit PCM into dst and returns
// the number of bytes written.
func PutInt16LE(dst []byte, samples []int16) int {
	if len(dst) < 2*len(samples) {
		return 0
	}
	for i, v := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(v))
	}
	return 2 * len(samples)
}

// DecodeFloat32LE decodes little-endian float32 samples from data into dst.
// Trailing bytes that do not form a whole sample are ignored.
func DecodeFloat32LE(dst []float32, data []byte) []float32 {
	n := len(data) / 4
	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
	}
	return dst
}

package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestFloat32ToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{in: 0, want: 0},
		{in: 1.0, want: 32767},
		{in: -1.0, want: -32767},
		{in: 1.5, want: 32767},
		{in: -2.0, want: -32767},
		{in: 0.5, want: 16383},
		{in: -0.5, want: -16383},
	}

	for _, tt := range tests {
		if got := Float32ToInt16(tt.in); got != tt.want {
			t.Errorf("Float32ToInt16(%v): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestConvertPCM16(t *testing.T) {
	dst := make([]int16, 3)

	if n := ConvertPCM16(dst, []float32{1.5, -2.0, 0}); n != 3 {
		t.Fatalf("Expected 3 samples converted, got %d", n)
	}
	if dst[0] != 32767 || dst[1] != -32767 || dst[2] != 0 {
		t.Errorf("Unexpected conversion result: %v", dst)
	}

	// Oversized input leaves dst untouched
	dst = []int16{7, 7}
	if n := ConvertPCM16(dst, []float32{0, 0, 0}); n != 0 {
		t.Errorf("Expected 0 samples for oversized input, got %d", n)
	}
	if dst[0] != 7 || dst[1] != 7 {
		t.Errorf("Expected dst unchanged, got %v", dst)
	}
}

func TestInterleave(t *testing.T) {
	dst := make([]float32, 4)

	if !Interleave(dst, []float32{1, 2}, []float32{3, 4}) {
		t.Fatal("Interleave rejected valid input")
	}

	want := []float32{1, 3, 2, 4}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Index %d: expected %v, got %v", i, want[i], dst[i])
		}
	}

	if Interleave(dst, []float32{1, 2, 3}, []float32{1, 2, 3}) {
		t.Error("Expected rejection when dst is too small")
	}

	if Interleave(dst, []float32{1}, []float32{1, 2}) {
		t.Error("Expected rejection for unequal channel lengths")
	}
}

func TestPutFloat32LE(t *testing.T) {
	dst := make([]byte, 8)
	n := PutFloat32LE(dst, []float32{1.0, -0.25})
	if n != 8 {
		t.Fatalf("Expected 8 bytes, got %d", n)
	}

	if got := math.Float32frombits(binary.LittleEndian.Uint32(dst[0:4])); got != 1.0 {
		t.Errorf("Expected 1.0, got %v", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(dst[4:8])); got != -0.25 {
		t.Errorf("Expected -0.25, got %v", got)
	}

	decoded := DecodeFloat32LE(nil, dst)
	if len(decoded) != 2 || decoded[0] != 1.0 || decoded[1] != -0.25 {
		t.Errorf("Unexpected decode result: %v", decoded)
	}
}

func TestPutInt16LE(t *testing.T) {
	dst := make([]byte, 4)
	if n := PutInt16LE(dst, []int16{32767, -32767}); n != 4 {
		t.Fatalf("Expected 4 bytes, got %d", n)
	}

	want := []byte{0xff, 0x7f, 0x01, 0x80}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Byte %d: expected 0x%02x, got 0x%02x", i, want[i], dst[i])
		}
	}

	if n := PutInt16LE(make([]byte, 1), []int16{1}); n != 0 {
		t.Errorf("Expected 0 bytes for short dst, got %d", n)
	}
}

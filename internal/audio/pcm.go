package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToSamples reads little-endian signed 16-bit samples. A trailing odd
// byte is ignored.
func PCM16ToSamples(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// SamplesToPCM16 writes samples as little-endian signed 16-bit bytes.
func SamplesToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FloatToInt16 converts normalized float samples to int16, clamping to [-1, 1].
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		out[i] = int16(clamped * math.MaxInt16)
	}
	return out
}

func decodePCM(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

func encodePCM(samples []float32) []byte {
	return SamplesToPCM16(FloatToInt16(samples))
}

package audio

import "math"

var ulawTable [256]int16
var alawTable [256]int16

const (
	ulawBias = 0x84
	ulawClip = 32635
)

func init() {
	for i := range 256 {
		ulawTable[i] = decodeUlawSample(byte(i))
		alawTable[i] = decodeAlawSample(byte(i))
	}
}

// DecodeUlaw expands G.711 μ-law bytes into 16-bit linear PCM samples.
// Every byte maps to exactly one sample.
func DecodeUlaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = ulawTable[b]
	}
	return out
}

// EncodeUlaw compresses 16-bit linear PCM samples into G.711 μ-law bytes.
func EncodeUlaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeUlawSample(s)
	}
	return out
}

func decodeUlawSample(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
		b &= 0x7F
	}
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	sample := (mantissa<<3 + ulawBias) << exponent
	sample -= ulawBias
	return sign * sample
}

func encodeUlawSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	v = min(v, ulawClip)
	v += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

func decodeAlawSample(b byte) int16 {
	b ^= 0x55
	sign := int16(1)
	if b&0x80 == 0 {
		sign = -1
	}
	b &= 0x7F
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	if exponent == 0 {
		return sign * (mantissa<<4 + 8)
	}
	return sign * ((mantissa<<4 + 0x108) << (exponent - 1))
}

func decodeG711Ulaw(data []byte) []float32 {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(ulawTable[b]) / math.MaxInt16
	}
	return samples
}

func decodeG711Alaw(data []byte) []float32 {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(alawTable[b]) / math.MaxInt16
	}
	return samples
}

func encodeG711Ulaw(samples []float32) []byte {
	return EncodeUlaw(FloatToInt16(samples))
}

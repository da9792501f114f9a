package audio

import "github.com/m-mizutani/goerr/v2"

type Codec string

const (
	CodecPCM      Codec = "pcm"
	CodecG711Ulaw Codec = "g711_ulaw"
	CodecG711Alaw Codec = "g711_alaw"
)

// TelephonyRate is the fixed sample rate of G.711 audio on phone calls.
const TelephonyRate = 8000

var ErrUnsupportedCodec = goerr.New("unsupported codec")

// decoder holds a codec's decode function and its fixed output sample rate.
// A rate of 0 means "use the caller-supplied sampleRate" (e.g. PCM passthrough).
type decoder struct {
	fn   func([]byte) []float32
	rate int
}

var decoders = map[Codec]decoder{
	CodecPCM:      {fn: decodePCM, rate: 0},
	CodecG711Ulaw: {fn: decodeG711Ulaw, rate: TelephonyRate},
	CodecG711Alaw: {fn: decodeG711Alaw, rate: TelephonyRate},
}

var encoders = map[Codec]func([]float32) []byte{
	CodecPCM:      encodePCM,
	CodecG711Ulaw: encodeG711Ulaw,
}

// Decode converts encoded audio bytes to float32 PCM samples normalized to [-1, 1].
// Returns samples and the sample rate.
func Decode(data []byte, codec Codec, sampleRate int) ([]float32, int, error) {
	dec, ok := decoders[codec]
	if !ok {
		return nil, 0, goerr.Wrap(ErrUnsupportedCodec, "decode", goerr.V("codec", codec))
	}
	rate := dec.rate
	if rate == 0 {
		rate = sampleRate
	}
	return dec.fn(data), rate, nil
}

// Encode converts normalized float32 samples to the byte layout of codec.
// A-law has no encoder.
func Encode(samples []float32, codec Codec) ([]byte, error) {
	enc, ok := encoders[codec]
	if !ok {
		return nil, goerr.Wrap(ErrUnsupportedCodec, "encode", goerr.V("codec", codec))
	}
	return enc(samples), nil
}

// NativeRate returns the fixed sample rate of codec, or 0 when the rate is
// carried alongside the data.
func NativeRate(codec Codec) int {
	return decoders[codec].rate
}

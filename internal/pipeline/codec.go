package pipeline

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
)

// CodecAdapter re-encodes audio frames to a target codec and sample rate.
// Frames already in the target format and non-audio frames pass through.
type CodecAdapter struct {
	Link
	codec audio.Codec
	rate  int
}

// NewCodecAdapter returns an adapter producing codec audio at rate. For G.711
// targets the rate is fixed at 8 kHz.
func NewCodecAdapter(codec audio.Codec, rate int) *CodecAdapter {
	if native := audio.NativeRate(codec); native != 0 {
		rate = native
	}
	return &CodecAdapter{codec: codec, rate: rate}
}

func (c *CodecAdapter) Listen(ctx context.Context, f Frame) error {
	if f.Kind != KindAudio || (f.Codec == c.codec && f.SampleRate == c.rate) {
		return c.Forward(ctx, f)
	}

	samples, srcRate, err := audio.Decode(f.Audio, f.Codec, f.SampleRate)
	if err != nil {
		return goerr.Wrap(err, "codec adapter decode")
	}
	encoded, err := audio.Encode(audio.Resample(samples, srcRate, c.rate), c.codec)
	if err != nil {
		return goerr.Wrap(err, "codec adapter encode")
	}
	return c.Forward(ctx, AudioFrame(encoded, c.codec, c.rate))
}

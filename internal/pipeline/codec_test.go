package pipeline_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
)

func TestCodecAdapterUlawToPCM(t *testing.T) {
	out := newSink()
	adapter := pipeline.NewCodecAdapter(audio.CodecPCM, 16000)
	adapter.Pipe(out)

	ulaw := make([]byte, 160) // 20 ms at 8 kHz
	for i := range ulaw {
		ulaw[i] = 0xFF
	}
	gt.NoError(t, adapter.Listen(context.Background(), pipeline.AudioFrame(ulaw, audio.CodecG711Ulaw, 8000)))

	frames := out.Frames()
	gt.A(t, frames).Length(1)
	gt.Equal(t, frames[0].Codec, audio.CodecPCM)
	gt.Equal(t, frames[0].SampleRate, 16000)
	gt.A(t, frames[0].Audio).Length(640) // 320 samples * 2 bytes
}

func TestCodecAdapterPCMToUlaw(t *testing.T) {
	out := newSink()
	adapter := pipeline.NewCodecAdapter(audio.CodecG711Ulaw, 0)
	adapter.Pipe(out)

	pcm := audio.SamplesToPCM16(make([]int16, 320))
	gt.NoError(t, adapter.Listen(context.Background(), pipeline.AudioFrame(pcm, audio.CodecPCM, 16000)))

	frames := out.Frames()
	gt.A(t, frames).Length(1)
	gt.Equal(t, frames[0].SampleRate, 8000)
	gt.A(t, frames[0].Audio).Length(160)
	for _, b := range frames[0].Audio {
		gt.Equal(t, b, byte(0xFF))
	}
}

func TestCodecAdapterPassesMatchingAndControlFrames(t *testing.T) {
	out := newSink()
	adapter := pipeline.NewCodecAdapter(audio.CodecG711Ulaw, 8000)
	adapter.Pipe(out)
	ctx := context.Background()

	payload := []byte{0x01, 0x02, 0x03}
	gt.NoError(t, adapter.Listen(ctx, pipeline.AudioFrame(payload, audio.CodecG711Ulaw, 8000)))
	gt.NoError(t, adapter.Listen(ctx, pipeline.ClearFrame()))

	frames := out.Frames()
	gt.A(t, frames).Length(2)
	gt.Equal(t, frames[0].Audio, payload)
	gt.Equal(t, frames[1].Kind, pipeline.KindClear)
}

func TestCodecAdapterRejectsUnknownCodec(t *testing.T) {
	adapter := pipeline.NewCodecAdapter(audio.CodecPCM, 16000)
	err := adapter.Listen(context.Background(), pipeline.AudioFrame([]byte{1}, audio.Codec("opus"), 48000))
	gt.Error(t, err)
}

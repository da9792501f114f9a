package audio_test

import (
	"testing"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/m-mizutani/gt"
)

func TestWAVToSamplesReadsWriterOutput(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	samples, rate, err := audio.WAVToSamples(audio.SamplesToWAV(in, 16000))
	gt.NoError(t, err)
	gt.Equal(t, rate, 16000)
	gt.A(t, samples).Length(len(in))
	for i := range in {
		d := samples[i] - in[i]
		gt.True(t, d < 0.001 && d > -0.001)
	}
}

func TestWAVToSamplesRejectsGarbage(t *testing.T) {
	_, _, err := audio.WAVToSamples([]byte("not a wav file at all"))
	gt.Error(t, err)
}

func TestResampleKeepsDuration(t *testing.T) {
	in := make([]float32, 8000)
	out := audio.Resample(in, 8000, 16000)
	gt.A(t, out).Length(16000)
	gt.A(t, audio.Resample(out, 16000, 8000)).Length(8000)
}

func TestResamplePreservesDC(t *testing.T) {
	in := make([]float32, 800)
	for i := range in {
		in[i] = 0.25
	}
	out := audio.Resample(in, 8000, 16000)
	mid := out[len(out)/2]
	gt.True(t, mid > 0.24 && mid < 0.26)
	gt.A(t, audio.Resample(nil, 8000, 16000)).Length(0)
}

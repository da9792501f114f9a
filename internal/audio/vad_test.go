package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
)

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestVADSegmentsSpeech(t *testing.T) {
	cfg := audio.DefaultVADConfig()
	cfg.SilenceTimeout = 0
	cfg.MinSpeechDuration = 0
	vad := audio.NewVAD(cfg)

	gt.False(t, vad.Speaking())
	res := vad.Process(tone(320, 0.5))
	gt.False(t, res.SpeechEnded)
	gt.True(t, vad.Speaking())

	res = vad.Process(make([]float32, 320))
	gt.True(t, res.SpeechEnded)
	gt.False(t, vad.Speaking())
	gt.A(t, res.Audio).Length(640)
}

func TestVADSilenceOnly(t *testing.T) {
	vad := audio.NewVAD(audio.DefaultVADConfig())
	res := vad.Process(make([]float32, 320))
	gt.False(t, res.SpeechEnded)
	gt.A(t, vad.Flush()).Length(0)
}

func TestVADDropsShortBursts(t *testing.T) {
	cfg := audio.DefaultVADConfig()
	cfg.SilenceTimeout = 20 * time.Millisecond
	cfg.MinSpeechDuration = 100 * time.Millisecond
	vad := audio.NewVAD(cfg)

	vad.Process(tone(320, 0.5))
	res := vad.Process(make([]float32, 320))
	gt.False(t, res.SpeechEnded)
	gt.False(t, vad.Speaking())
	gt.A(t, vad.Flush()).Length(0)
}

func TestVADCutsLongSpeech(t *testing.T) {
	cfg := audio.DefaultVADConfig()
	cfg.PreSpeechBuffer = 0
	cfg.MaxSpeechDuration = 100 * time.Millisecond
	vad := audio.NewVAD(cfg)

	var cuts int
	for range 10 {
		if vad.Process(tone(320, 0.5)).SpeechEnded {
			cuts++
		}
	}
	gt.Equal(t, cuts, 2)
}

func TestVADKeepsLeadIn(t *testing.T) {
	cfg := audio.DefaultVADConfig()
	cfg.SilenceTimeout = 0
	cfg.MinSpeechDuration = 0
	cfg.PreSpeechBuffer = 10 * time.Millisecond
	vad := audio.NewVAD(cfg)

	vad.Process(make([]float32, 320))
	vad.Process(tone(320, 0.5))
	res := vad.Process(make([]float32, 320))
	gt.True(t, res.SpeechEnded)
	gt.A(t, res.Audio).Length(160 + 640)
}

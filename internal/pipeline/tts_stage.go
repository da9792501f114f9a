package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

// Synthesizer turns text into mono samples. *TTSRouter implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error)
}

// minSpeechRate is the lowest synthesizer sample rate the stage accepts.
const minSpeechRate = 1000

type TTSStageConfig struct {
	TTS     Synthesizer
	Engine  string
	Options TTSOptions
	Tracer  *trace.Tracer
	// ChunkMs splits synthesized audio into frames of this duration.
	ChunkMs int
}

// TTSStage synthesizes each text frame and forwards the audio as 16-bit PCM
// frames at the synthesizer's sample rate. Each spoken sentence is traced as
// an AiMessage span.
type TTSStage struct {
	Link
	cfg    TTSStageConfig
	worker *worker
}

func NewTTSStage(ctx context.Context, cfg TTSStageConfig) *TTSStage {
	if cfg.ChunkMs <= 0 {
		cfg.ChunkMs = 20
	}
	return &TTSStage{cfg: cfg, worker: newWorker(ctx, "tts", 16)}
}

func (s *TTSStage) Listen(ctx context.Context, f Frame) error {
	switch f.Kind {
	case KindText:
	case KindClear:
		s.worker.flush()
		return s.Forward(ctx, f)
	default:
		return s.Forward(ctx, f)
	}
	text := f.Text
	s.worker.submit(func(wctx context.Context) {
		s.speak(wctx, text)
	})
	return nil
}

func (s *TTSStage) speak(ctx context.Context, text string) {
	logger := ctxlog.From(ctx)
	res, err := s.cfg.TTS.Synthesize(ctx, text, s.cfg.Engine, s.cfg.Options)
	if err != nil {
		logger.Error("tts sentence", "error", err, "text", text)
		return
	}
	if res.SampleRate < minSpeechRate {
		logger.Error("tts sample rate out of range", "sample_rate", res.SampleRate, "text", text)
		return
	}
	s.cfg.Tracer.Handle(ctx, trace.AiTranscript("item_"+uuid.NewString(), text))

	pcm := audio.SamplesToPCM16(audio.FloatToInt16(res.Samples))
	chunk := max(2, res.SampleRate*s.cfg.ChunkMs/1000*2)
	for off := 0; off < len(pcm) && ctx.Err() == nil; off += chunk {
		end := min(off+chunk, len(pcm))
		if err = s.Forward(ctx, AudioFrame(pcm[off:end], audio.CodecPCM, res.SampleRate)); err != nil {
			logger.Error("forward tts audio", "error", err)
			return
		}
	}
}

// Close cancels synthesis in progress and discards queued sentences.
func (s *TTSStage) Close() error {
	s.worker.stop()
	return nil
}

package ws

import (
	"context"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/realtime"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

const (
	ModeRealtime = "realtime"
	ModeCascade  = "cascade"
)

// StageFactory builds the AI side of a call once its stream has started.
// The returned stages are chained after the transport and looped back to it.
type StageFactory func(ctx context.Context, tracer *trace.Tracer) ([]pipeline.Stage, error)

// RealtimeStages relays the call to a speech-to-speech model over one
// realtime websocket per call.
func RealtimeStages(cfg realtime.Config) StageFactory {
	return func(ctx context.Context, tracer *trace.Tracer) ([]pipeline.Stage, error) {
		cfg.Tracer = tracer
		stage, err := realtime.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return []pipeline.Stage{stage}, nil
	}
}

// CascadeConfig wires the ASR → LLM → TTS chain. Retriever is optional.
type CascadeConfig struct {
	ASR       *pipeline.ASRRouter
	ASREngine string
	VAD       audio.VADConfig

	LLM          pipeline.Chatter
	LLMEngine    string
	Model        string
	SystemPrompt string
	MaxHistory   int
	Retriever    pipeline.Retriever

	TTS        pipeline.Synthesizer
	TTSEngine  string
	TTSOptions pipeline.TTSOptions
}

// CascadeStages decodes call audio for the ASR, answers with the LLM and
// re-encodes synthesized speech for the call.
func CascadeStages(cfg CascadeConfig) StageFactory {
	return func(ctx context.Context, tracer *trace.Tracer) ([]pipeline.Stage, error) {
		return []pipeline.Stage{
			pipeline.NewCodecAdapter(audio.CodecPCM, pipeline.ASRRate),
			pipeline.NewASRStage(ctx, pipeline.ASRStageConfig{
				ASR:    cfg.ASR,
				Engine: cfg.ASREngine,
				VAD:    cfg.VAD,
				Tracer: tracer,
			}),
			pipeline.NewLLMStage(ctx, pipeline.LLMStageConfig{
				LLM:          cfg.LLM,
				Engine:       cfg.LLMEngine,
				Model:        cfg.Model,
				SystemPrompt: cfg.SystemPrompt,
				Retriever:    cfg.Retriever,
				Tracer:       tracer,
				MaxHistory:   cfg.MaxHistory,
			}),
			pipeline.NewTTSStage(ctx, pipeline.TTSStageConfig{
				TTS:     cfg.TTS,
				Engine:  cfg.TTSEngine,
				Options: cfg.TTSOptions,
				Tracer:  tracer,
			}),
			pipeline.NewCodecAdapter(audio.CodecG711Ulaw, audio.TelephonyRate),
		}, nil
	}
}

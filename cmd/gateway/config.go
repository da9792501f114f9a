package main

import (
	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/env"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/prompts"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/rag"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/realtime"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/ws"
)

type config struct {
	port               string
	mode               string
	maxConcurrentCalls int
	outboundBacklog    int
	publicStreamURL    string
	httpPoolSize       int

	openaiAPIKey         string
	realtimeURL          string
	realtimeModel        string
	realtimeVoice        string
	realtimeVADThreshold float64
	systemPrompt         string

	llmBaseURL   string
	llmModel     string
	llmMaxTokens int

	asrEngine        string
	whisperServerURL string
	vadConfig        audio.VADConfig

	ttsEngine         string
	piperURL          string
	kokoroURL         string
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string

	qdrantURL         string
	qdrantCollection  string
	embeddingModel    string
	embeddingBaseURL  string
	vectorSize        int
	ragTopK           int
	ragScoreThreshold float64

	traceDBURL  string
	traceOTel   bool
	traceBuffer int
	pricing     trace.Pricing
}

func loadConfig() config {
	vad := audio.DefaultVADConfig()
	vad.SpeechThresholdDB = env.Float("VAD_SPEECH_THRESHOLD_DB", vad.SpeechThresholdDB)
	vad.SilenceTimeout = env.Duration("VAD_SILENCE_TIMEOUT", vad.SilenceTimeout)
	vad.MaxSpeechDuration = env.Duration("VAD_MAX_SPEECH", vad.MaxSpeechDuration)

	price := trace.DefaultPricing()

	return config{
		port:               env.Str("GATEWAY_PORT", "8000"),
		mode:               env.Str("PIPELINE_MODE", ws.ModeRealtime),
		maxConcurrentCalls: env.Int("MAX_CONCURRENT_CALLS", 100),
		outboundBacklog:    env.Int("OUTBOUND_BACKLOG", 0),
		publicStreamURL:    env.Str("PUBLIC_STREAM_URL", ""),
		httpPoolSize:       env.Int("HTTP_POOL_SIZE", 50),

		openaiAPIKey:         env.Str("OPENAI_API_KEY", ""),
		realtimeURL:          env.Str("OPENAI_REALTIME_URL", realtime.DefaultURL),
		realtimeModel:        env.Str("OPENAI_REALTIME_MODEL", realtime.DefaultModel),
		realtimeVoice:        env.Str("REALTIME_VOICE", realtime.DefaultVoice),
		realtimeVADThreshold: env.Float("REALTIME_VAD_THRESHOLD", 0.5),
		systemPrompt:         env.Str("LLM_SYSTEM_PROMPT", prompts.DefaultSystem),

		llmBaseURL:   env.Str("LLM_BASE_URL", "https://api.openai.com/v1"),
		llmModel:     env.Str("LLM_MODEL", "gpt-4o-mini"),
		llmMaxTokens: env.Int("LLM_MAX_TOKENS", 150),

		asrEngine:        env.Str("ASR_ENGINE", "whisper"),
		whisperServerURL: env.Str("WHISPER_SERVER_URL", "http://localhost:8080"),
		vadConfig:        vad,

		ttsEngine:         env.Str("TTS_ENGINE", "piper"),
		piperURL:          env.Str("PIPER_URL", "http://localhost:5100"),
		kokoroURL:         env.Str("KOKORO_URL", ""),
		elevenlabsAPIKey:  env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID: env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID: env.Str("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),

		qdrantURL:         env.Str("QDRANT_URL", ""),
		qdrantCollection:  env.Str("QDRANT_COLLECTION", "knowledge_base"),
		embeddingModel:    env.Str("EMBEDDING_MODEL", rag.DefaultEmbeddingModel),
		embeddingBaseURL:  env.Str("EMBEDDING_BASE_URL", ""),
		vectorSize:        env.Int("VECTOR_SIZE", 3072),
		ragTopK:           env.Int("RAG_TOP_K", 3),
		ragScoreThreshold: env.Float("RAG_SCORE_THRESHOLD", 0.5),

		traceDBURL:  env.Str("TRACE_DB_URL", ""),
		traceOTel:   env.Bool("TRACE_OTEL", false),
		traceBuffer: env.Int("TRACE_BUFFER", 1024),
		pricing: trace.Pricing{
			InputText:   env.Float("PRICE_INPUT_TEXT", price.InputText),
			InputAudio:  env.Float("PRICE_INPUT_AUDIO", price.InputAudio),
			OutputText:  env.Float("PRICE_OUTPUT_TEXT", price.OutputText),
			OutputAudio: env.Float("PRICE_OUTPUT_AUDIO", price.OutputAudio),
		},
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/prompts"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/rag"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/realtime"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/tools"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "error", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()
	httpClient := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, 30*time.Second)

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	retriever := newRetriever(initCtx, cfg, httpClient)
	sinks, store, shutdownTracing := newTraceSinks(initCtx, cfg)
	initCancel()

	var toolset []tools.Tool
	if retriever != nil {
		toolset = append(toolset, tools.NewContextRetriever(retriever))
	}
	registry, err := tools.NewRegistry(toolset...)
	if err != nil {
		slog.Error("tool registry", "error", err)
		os.Exit(1)
	}

	var stages ws.StageFactory
	switch cfg.mode {
	case ws.ModeCascade:
		stages = ws.CascadeStages(newCascadeConfig(cfg, httpClient, retriever))
	default:
		cfg.mode = ws.ModeRealtime
		stages = ws.RealtimeStages(realtime.Config{
			URL:          cfg.realtimeURL,
			Model:        cfg.realtimeModel,
			APIKey:       cfg.openaiAPIKey,
			Voice:        cfg.realtimeVoice,
			Instructions: prompts.RealtimeInstructions(cfg.systemPrompt, retriever != nil),
			VADThreshold: cfg.realtimeVADThreshold,
			Tools:        registry,
		})
	}

	handler := ws.NewHandler(ws.HandlerConfig{
		Mode:            cfg.mode,
		Stages:          stages,
		MaxConcurrent:   cfg.maxConcurrentCalls,
		OutboundBacklog: cfg.outboundBacklog,
		Sink:            trace.Multi(sinks.all...),
		Sessions:        sinks.sessions,
		TracerOptions:   []trace.Option{trace.WithPricing(cfg.pricing)},
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		publicStreamURL: cfg.publicStreamURL,
		wsHandler:       handler,
		traceStore:      store,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		shutdownTracing(ctx)
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"mode", cfg.mode,
		"max_concurrent", cfg.maxConcurrentCalls,
		"tools", len(registry.Definitions()),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// newRetriever returns nil when no vector store is configured.
func newRetriever(ctx context.Context, cfg config, httpClient *http.Client) *rag.Retriever {
	if cfg.qdrantURL == "" {
		return nil
	}
	qdrant := rag.NewQdrantClient(cfg.qdrantURL, httpClient)
	if err := qdrant.EnsureCollection(ctx, cfg.qdrantCollection, cfg.vectorSize); err != nil {
		slog.Warn("qdrant collection", "collection", cfg.qdrantCollection, "error", err)
	}
	slog.Info("rag enabled", "qdrant", cfg.qdrantURL, "embedding_model", cfg.embeddingModel)
	return rag.NewRetriever(rag.Config{
		Embedder:       rag.NewEmbedder(cfg.openaiAPIKey, cfg.embeddingBaseURL, cfg.embeddingModel, httpClient),
		Qdrant:         qdrant,
		Collection:     cfg.qdrantCollection,
		TopK:           cfg.ragTopK,
		ScoreThreshold: cfg.ragScoreThreshold,
	})
}

type traceSinks struct {
	all      []trace.Sink
	sessions ws.SessionRecorder
}

// newTraceSinks always logs spans. OpenTelemetry export and the Postgres
// store are added when configured. The returned func flushes them.
func newTraceSinks(ctx context.Context, cfg config) (traceSinks, *trace.Store, func(context.Context)) {
	sinks := traceSinks{all: []trace.Sink{trace.NewLogSink()}}
	var closers []func(context.Context)

	if cfg.traceOTel {
		exporter, err := stdouttrace.New()
		if err != nil {
			slog.Warn("otel exporter", "error", err)
		} else {
			tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
			sinks.all = append(sinks.all, trace.NewOTelSink(trace.WithTracerProvider(tp)))
			closers = append(closers, func(ctx context.Context) {
				if err := tp.Shutdown(ctx); err != nil {
					slog.Warn("otel shutdown", "error", err)
				}
			})
		}
	}

	var store *trace.Store
	if cfg.traceDBURL != "" {
		var err error
		store, err = trace.Open(ctx, cfg.traceDBURL)
		if err != nil {
			slog.Warn("trace store disabled", "error", err)
		} else {
			storeSink := trace.NewStoreSink(store, cfg.traceBuffer)
			sinks.all = append(sinks.all, storeSink)
			sinks.sessions = storeSink
			closers = append(closers, func(context.Context) {
				storeSink.Shutdown()
				store.Close()
			})
			slog.Info("trace store enabled")
		}
	}

	return sinks, store, func(ctx context.Context) {
		for _, c := range closers {
			c(ctx)
		}
	}
}

// openaiAPIBase is the OpenAI host; the audio clients append the /v1 paths.
const openaiAPIBase = "https://api.openai.com"

func newCascadeConfig(cfg config, httpClient *http.Client, retriever *rag.Retriever) ws.CascadeConfig {
	asrBackends := map[string]pipeline.ASRTranscriber{
		"whisper": pipeline.NewWhisperClient(cfg.whisperServerURL, httpClient),
	}
	if cfg.openaiAPIKey != "" {
		asrBackends["openai"] = pipeline.NewOpenAIASRClient(openaiAPIBase, cfg.openaiAPIKey, "whisper-1", httpClient)
	}

	llm := pipeline.NewAgentLLM("openai", cfg.llmMaxTokens)
	llm.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(cfg.openaiAPIKey),
		BaseURL:      param.NewOpt(cfg.llmBaseURL),
		UseResponses: param.NewOpt(false),
	}), cfg.llmModel)

	ttsBackends := map[string]pipeline.TTSSynthesizer{
		"piper":  pipeline.NewPiperSynthesizer(cfg.piperURL, "en_US-lessac-medium", httpClient),
		"openai": pipeline.NewOpenAISynthesizer(openaiAPIBase, cfg.openaiAPIKey, "tts-1", "alloy", httpClient),
	}
	if cfg.kokoroURL != "" {
		ttsBackends["kokoro"] = pipeline.NewOpenAISynthesizer(cfg.kokoroURL, "", "kokoro", "af_heart", httpClient)
	}
	if cfg.elevenlabsAPIKey != "" {
		ttsBackends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer("", cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, httpClient)
	}
	ttsRouter := pipeline.NewTTSRouter(ttsBackends, "piper")

	asrRouter := pipeline.NewASRRouter(asrBackends, "whisper")

	cc := ws.CascadeConfig{
		ASR:          asrRouter,
		ASREngine:    cfg.asrEngine,
		VAD:          cfg.vadConfig,
		LLM:          llm,
		LLMEngine:    "openai",
		Model:        cfg.llmModel,
		SystemPrompt: cfg.systemPrompt,
		TTS:          ttsRouter,
		TTSEngine:    cfg.ttsEngine,
	}
	if retriever != nil {
		cc.Retriever = retriever
	}
	slog.Info("cascade pipeline", "asr_engines", asrRouter.Engines(), "tts_engines", ttsRouter.Engines())
	return cc
}

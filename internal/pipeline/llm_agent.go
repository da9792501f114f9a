package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

// LLMResult holds one finished reply with timing.
type LLMResult struct {
	Text               string  `json:"text"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms"`
}

// TokenCallback receives each streamed text delta in order.
type TokenCallback func(token string)

type llmEngine struct {
	provider agents.ModelProvider
	model    string
}

// AgentLLM answers single-turn prompts through openai-agents-go providers,
// one per engine name.
type AgentLLM struct {
	engines   map[string]llmEngine
	fallback  string
	maxTokens int
}

func NewAgentLLM(fallback string, maxTokens int) *AgentLLM {
	return &AgentLLM{engines: make(map[string]llmEngine), fallback: fallback, maxTokens: maxTokens}
}

// Register binds engine to provider. defaultModel is used when a call names
// no model. Register is not safe to call once Chat is in use.
func (a *AgentLLM) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.engines[engine] = llmEngine{provider: provider, model: defaultModel}
}

func (a *AgentLLM) Has(engine string) bool {
	_, ok := a.engines[engine]
	return ok
}

// Chat streams a reply to input. onToken sees every delta before Chat returns.
func (a *AgentLLM) Chat(ctx context.Context, input, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	eng, err := NewRouter(a.engines, a.fallback).Route(engine)
	if err != nil {
		return nil, goerr.Wrap(err, "resolve llm")
	}
	if model == "" {
		model = eng.model
	}

	agent := agents.New("relay").
		WithInstructions(systemPrompt).
		WithModel(model).
		WithModelSettings(modelsettings.ModelSettings{MaxTokens: param.NewOpt(int64(a.maxTokens))})
	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   eng.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	events, errCh, err := runner.RunStreamedChan(ctx, agent, input)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "start").Inc()
		return nil, goerr.Wrap(err, "llm stream start", goerr.V("engine", engine), goerr.V("model", model))
	}

	text, firstToken := collectDeltas(events, onToken)
	if err := <-errCh; err != nil {
		metrics.Errors.WithLabelValues("llm", "stream").Inc()
		return nil, goerr.Wrap(err, "llm stream", goerr.V("engine", engine), goerr.V("model", model))
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())
	res := &LLMResult{Text: text, LatencyMs: float64(latency.Milliseconds())}
	if !firstToken.IsZero() {
		res.TimeToFirstTokenMs = float64(firstToken.Sub(start).Milliseconds())
	}
	return res, nil
}

// collectDeltas drains events, forwarding output text deltas to onToken. It
// returns the joined text and the arrival time of the first delta.
func collectDeltas[E any](events <-chan E, onToken TokenCallback) (string, time.Time) {
	var (
		b     strings.Builder
		first time.Time
	)
	for ev := range events {
		raw, ok := any(ev).(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if first.IsZero() {
			first = time.Now()
		}
		if onToken != nil {
			onToken(raw.Data.Delta)
		}
		b.WriteString(raw.Data.Delta)
	}
	return b.String(), first
}

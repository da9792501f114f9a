package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/prompts"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

// Chatter streams a completion for input. *AgentLLM implements it.
type Chatter interface {
	Chat(ctx context.Context, input, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error)
}

// Retriever returns knowledge base context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// LLMStageConfig wires an LLMStage. Retriever is optional.
type LLMStageConfig struct {
	LLM          Chatter
	Engine       string
	Model        string
	SystemPrompt string
	Retriever    Retriever
	Tracer       *trace.Tracer
	MaxHistory   int
}

// turn holds one user→assistant exchange for conversation history.
type turn struct {
	user      string
	assistant string
}

// LLMStage answers each text frame and forwards the reply one sentence at a
// time, so synthesis can start before the model finishes. Replies are
// produced in arrival order on a worker goroutine.
type LLMStage struct {
	Link
	cfg     LLMStageConfig
	worker  *worker
	history []turn
}

func NewLLMStage(ctx context.Context, cfg LLMStageConfig) *LLMStage {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 10
	}
	cfg.SystemPrompt = prompts.ForSession(cfg.SystemPrompt)
	return &LLMStage{cfg: cfg, worker: newWorker(ctx, "llm", 4)}
}

func (s *LLMStage) Listen(ctx context.Context, f Frame) error {
	switch f.Kind {
	case KindText:
	case KindClear:
		s.worker.flush()
		return s.Forward(ctx, f)
	default:
		return s.Forward(ctx, f)
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return nil
	}
	s.worker.submit(func(wctx context.Context) {
		s.respond(wctx, text)
	})
	return nil
}

func (s *LLMStage) respond(ctx context.Context, userText string) {
	logger := ctxlog.From(ctx)
	respID := "resp_" + uuid.NewString()
	s.cfg.Tracer.Handle(ctx, trace.ResponseStarted(respID, s.cfg.Model))

	systemPrompt := s.cfg.SystemPrompt
	if s.cfg.Retriever != nil {
		ragContext, err := s.cfg.Retriever.Retrieve(ctx, userText)
		if err != nil {
			logger.Warn("rag retrieval", "error", err)
		}
		if ragContext != "" {
			systemPrompt += "\n\n" + prompts.RAGContext(ragContext)
		}
	}

	start := time.Now()
	var sb sentenceBuffer
	var sent bool
	forward := func(sentence string) {
		if ctx.Err() != nil {
			return
		}
		if !sent {
			sent = true
			metrics.E2EDuration.Observe(time.Since(start).Seconds())
		}
		if err := s.Forward(ctx, TextFrame(sentence)); err != nil {
			logger.Error("forward sentence", "error", err)
		}
	}

	result, err := s.cfg.LLM.Chat(ctx, s.formatInput(userText), systemPrompt, s.cfg.Model, s.cfg.Engine, func(token string) {
		if sentence := sb.Add(token); sentence != "" {
			forward(sentence)
		}
	})
	if rest := sb.Flush(); rest != "" {
		forward(rest)
	}

	if err != nil {
		logger.Error("llm chat", "error", err)
		s.cfg.Tracer.Handle(ctx, trace.ResponseCompleted(respID, nil, err.Error(), nil))
		return
	}

	logger.Info("llm_response", "text", result.Text, "llm_ms", result.LatencyMs, "ttft_ms", result.TimeToFirstTokenMs)
	s.cfg.Tracer.Handle(ctx, trace.ResponseCompleted(respID, result.Text, "", nil))

	s.history = append(s.history, turn{user: userText, assistant: result.Text})
	if len(s.history) > s.cfg.MaxHistory {
		s.history = s.history[len(s.history)-s.cfg.MaxHistory:]
	}
}

// formatInput prepends conversation history to the current message.
func (s *LLMStage) formatInput(current string) string {
	if len(s.history) == 0 {
		return current
	}
	var b strings.Builder
	for _, t := range s.history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.user, t.assistant)
	}
	fmt.Fprintf(&b, "User: %s", current)
	return b.String()
}

// Close cancels the reply in progress and discards queued ones.
func (s *LLMStage) Close() error {
	s.worker.stop()
	return nil
}

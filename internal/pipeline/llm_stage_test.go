package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

type fakeLLM struct {
	mu     sync.Mutex
	inputs []string
	system []string
	reply  string
	err    error
}

func (f *fakeLLM) Chat(_ context.Context, input, systemPrompt, _, _ string, onToken pipeline.TokenCallback) (*pipeline.LLMResult, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.system = append(f.system, systemPrompt)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, tok := range strings.SplitAfter(f.reply, " ") {
		onToken(tok)
	}
	return &pipeline.LLMResult{Text: f.reply}, nil
}

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(context.Context, string) (string, error) {
	return "opening hours are 9 to 5", nil
}

func TestLLMStageStreamsSentences(t *testing.T) {
	llm := &fakeLLM{reply: "We open at nine. See you soon!"}
	rec := trace.NewRecorder()
	tr := trace.NewTracer("s", rec)
	ctx := context.Background()

	stage := pipeline.NewLLMStage(ctx, pipeline.LLMStageConfig{LLM: llm, Tracer: tr, Retriever: fakeRetriever{}})
	out := newSink()
	stage.Pipe(out)

	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("when do you open")))
	frames := out.waitFor(t, 2)
	gt.Equal(t, frames[0].Text, "We open at nine.")
	gt.Equal(t, frames[1].Text, "See you soon!")

	gt.NoError(t, stage.Close())
	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Kind, trace.KindAiResponse)
	gt.S(t, llm.system[0]).Contains("opening hours are 9 to 5")
}

func TestLLMStageCarriesHistory(t *testing.T) {
	llm := &fakeLLM{reply: "Sure."}
	ctx := context.Background()
	stage := pipeline.NewLLMStage(ctx, pipeline.LLMStageConfig{LLM: llm})
	out := newSink()
	stage.Pipe(out)

	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("first")))
	out.waitFor(t, 1)
	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("second")))
	out.waitFor(t, 2)
	gt.NoError(t, stage.Close())

	llm.mu.Lock()
	defer llm.mu.Unlock()
	gt.Equal(t, llm.inputs[1], "User: first\nAssistant: Sure.\nUser: second")
}

func TestLLMStageErrorClosesSpanWithError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream down")}
	rec := trace.NewRecorder()
	ctx := context.Background()
	stage := pipeline.NewLLMStage(ctx, pipeline.LLMStageConfig{LLM: llm, Tracer: trace.NewTracer("s", rec)})
	defer stage.Close()

	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("hello")))
	closed := eventually(t, func() []trace.Span { return rec.Closed() })
	gt.Equal(t, closed[0].Level, trace.LevelError)
	gt.Equal(t, closed[0].Error, "upstream down")
}

// eventually polls fn until it returns a non-empty slice.
func eventually[T any](t *testing.T, fn func() []T) []T {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v := fn(); len(v) > 0 {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
	return nil
}

func TestLLMStageForwardsClear(t *testing.T) {
	ctx := context.Background()
	stage := pipeline.NewLLMStage(ctx, pipeline.LLMStageConfig{LLM: &fakeLLM{}})
	out := newSink()
	stage.Pipe(out)
	gt.NoError(t, stage.Listen(ctx, pipeline.ClearFrame()))
	gt.Equal(t, out.Frames()[0].Kind, pipeline.KindClear)
	gt.NoError(t, stage.Close())
}

// stallingLLM blocks on "first" until its context is cancelled.
type stallingLLM struct {
	started chan string
}

func (s *stallingLLM) Chat(ctx context.Context, input, _, _, _ string, onToken pipeline.TokenCallback) (*pipeline.LLMResult, error) {
	s.started <- input
	if input == "first" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	onToken("Sure thing.")
	return &pipeline.LLMResult{Text: "Sure thing."}, nil
}

func TestLLMStageClearDropsPendingReplies(t *testing.T) {
	llm := &stallingLLM{started: make(chan string, 8)}
	ctx := context.Background()
	stage := pipeline.NewLLMStage(ctx, pipeline.LLMStageConfig{LLM: llm})
	out := newSink()
	stage.Pipe(out)

	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("first")))
	gt.Equal(t, nextText(t, llm.started), "first")
	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("second")))
	gt.NoError(t, stage.Listen(ctx, pipeline.ClearFrame()))
	gt.NoError(t, stage.Listen(ctx, pipeline.TextFrame("third")))

	gt.Equal(t, nextText(t, llm.started), "third")
	frames := out.waitFor(t, 2)
	gt.NoError(t, stage.Close())

	gt.Equal(t, frames[0].Kind, pipeline.KindClear)
	gt.Equal(t, frames[1].Text, "Sure thing.")
}

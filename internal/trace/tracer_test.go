package trace_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

func newTracer() (*trace.Tracer, *trace.Recorder) {
	rec := trace.NewRecorder()
	return trace.NewTracer("sess-1", rec), rec
}

func TestTextOnlyUserMessageClosesImmediately(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Observe(ctx, []byte(`{"type":"conversation.item.created","item":{"id":"X","type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}}`))

	gt.A(t, rec.Opened()).Length(1)
	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Kind, trace.KindUserMessage)
	gt.Equal(t, closed[0].CorrelationID, "X")
	gt.Equal(t, closed[0].SessionID, "sess-1")
	gt.Equal(t, closed[0].Input.([]trace.Part)[0].Text, "hi")
	gt.Equal(t, tr.OpenCount(), 0)
	gt.Equal(t, tr.Close(ctx), 0)
}

func TestAudioUserMessageClosedByTranscript(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.UserMessage("item_a", []trace.Part{{ID: "item_a", Type: "input_audio"}}, true))
	gt.Equal(t, tr.OpenCount(), 1)
	gt.A(t, rec.Closed()).Length(0)

	tr.Handle(ctx, trace.UserTranscript("item_a", "book a table", ""))
	gt.Equal(t, tr.OpenCount(), 0)
	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Output.(trace.TextOutput).Text, "<voice>book a table</voice>")
	gt.Equal(t, closed[0].Level, trace.LevelDefault)
}

func TestFailedTranscriptionMarksError(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.UserMessage("item_b", nil, true))
	tr.Observe(ctx, []byte(`{"type":"conversation.item.input_audio_transcription.failed","item_id":"item_b","error":{"message":"garbled"}}`))

	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Level, trace.LevelError)
	gt.S(t, closed[0].Error).Contains("garbled")
}

func TestToolCallDuplicateCompletionIsNoop(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.ToolCallStarted("C", "context_retriever", `{"query":"q"}`))
	tr.Handle(ctx, trace.ToolCallCompleted("C", `{"query":"q"}`, "R"))
	tr.Handle(ctx, trace.ToolCallCompleted("C", `{"query":"q"}`, "R again"))

	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Kind, trace.KindToolCall)
	gt.Equal(t, closed[0].Output.(trace.ToolOutput).Output, "R")
	gt.Equal(t, tr.Close(ctx), 0)
}

func TestDuplicateOpenKeepsFirstSpan(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.ResponseStarted("R1", "m1"))
	tr.Handle(ctx, trace.ResponseStarted("R1", "m2"))
	gt.Equal(t, tr.OpenCount(), 1)
	gt.A(t, rec.Opened()).Length(1)

	tr.Handle(ctx, trace.ResponseCompleted("R1", nil, "", nil))
	gt.Equal(t, rec.Closed()[0].Model, "m1")
}

func TestResponseCostFromUsage(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	usage := &trace.Usage{
		InputTokens:        1_100_000,
		OutputTokens:       1_100_000,
		InputTokenDetails:  trace.InputTokenDetails{TextTokens: 1_000_000, AudioTokens: 100_000},
		OutputTokenDetails: trace.OutputTokenDetails{TextTokens: 1_000_000, AudioTokens: 100_000},
	}
	tr.Handle(ctx, trace.ResponseStarted("R", trace.RealtimeModel))
	tr.Handle(ctx, trace.ResponseCompleted("R", nil, "", usage))

	sp := rec.Closed()[0]
	gt.NotNil(t, sp.Cost)
	gt.True(t, sp.Cost.Input > 14.99 && sp.Cost.Input < 15.01)
	gt.True(t, sp.Cost.Output > 39.99 && sp.Cost.Output < 40.01)
}

func TestPricingIsConfigurable(t *testing.T) {
	rec := trace.NewRecorder()
	tr := trace.NewTracer("s", rec, trace.WithPricing(trace.Pricing{InputText: 1}))
	ctx := context.Background()

	tr.Handle(ctx, trace.ResponseStarted("R", ""))
	tr.Handle(ctx, trace.ResponseCompleted("R", nil, "", &trace.Usage{
		InputTokenDetails: trace.InputTokenDetails{TextTokens: 2_000_000, AudioTokens: 5},
	}))
	gt.Equal(t, rec.Closed()[0].Cost.Total, 2.0)
}

func TestCloseForcesEveryOpenSpanOnce(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.ResponseStarted("R1", ""))
	tr.Handle(ctx, trace.ToolCallStarted("C1", "context_retriever", "{}"))
	tr.Handle(ctx, trace.UserMessage("U1", nil, true))

	gt.Equal(t, tr.Close(ctx), 3)
	closed := rec.Closed()
	gt.A(t, closed).Length(3)
	for _, sp := range closed {
		gt.Equal(t, sp.Output, any(trace.NoOutput))
		gt.True(t, sp.Forced)
	}
	gt.Equal(t, closed[0].CorrelationID, "R1")
	gt.Equal(t, closed[2].CorrelationID, "U1")

	// late events after teardown are ignored
	tr.Handle(ctx, trace.ResponseStarted("R2", ""))
	gt.Equal(t, tr.OpenCount(), 0)
	gt.Equal(t, tr.Close(ctx), 0)
}

func TestOverlappingToolCalls(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.ToolCallStarted("C1", "context_retriever", `{"query":"a"}`))
	tr.Handle(ctx, trace.ToolCallStarted("C2", "context_retriever", `{"query":"b"}`))
	tr.Handle(ctx, trace.ToolCallCompleted("C2", "", "B"))
	tr.Handle(ctx, trace.ToolCallCompleted("C1", "", "A"))

	closed := rec.Closed()
	gt.A(t, closed).Length(2)
	gt.Equal(t, closed[0].CorrelationID, "C2")
	gt.Equal(t, closed[1].Output.(trace.ToolOutput).Output, "A")
}

func TestConcurrentEventsBalance(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("R%d", i)
			tr.Handle(ctx, trace.ResponseStarted(id, ""))
			tr.Handle(ctx, trace.ResponseCompleted(id, nil, "", nil))
			tr.Handle(ctx, trace.ResponseCompleted(id, nil, "", nil))
		}()
	}
	wg.Wait()

	gt.A(t, rec.Opened()).Length(50)
	gt.A(t, rec.Closed()).Length(50)
	gt.Equal(t, tr.OpenCount(), 0)
}

func TestAiTranscriptIsOneShot(t *testing.T) {
	tr, rec := newTracer()
	tr.Observe(context.Background(), []byte(`{"type":"response.audio_transcript.done","item_id":"item_9","transcript":"goodbye"}`))

	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Kind, trace.KindAiMessage)
	gt.Equal(t, closed[0].Output.(trace.TextOutput).Text, "<voice>goodbye</voice>")
	gt.Equal(t, tr.OpenCount(), 0)
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *trace.Tracer
	ctx := context.Background()
	tr.Handle(ctx, trace.ResponseStarted("R", ""))
	tr.Observe(ctx, []byte(`{}`))
	gt.Equal(t, tr.Close(ctx), 0)
	gt.Equal(t, tr.OpenCount(), 0)
}

func TestInstantSpanRespectsOpenID(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.UserMessage("X", []trace.Part{{ID: "X", Type: "input_audio"}}, true))
	tr.Handle(ctx, trace.AiTranscript("X", "hello"))

	gt.A(t, rec.Opened()).Length(1)
	gt.A(t, rec.Closed()).Length(0)
	gt.Equal(t, tr.OpenCount(), 1)
}

func TestClosedIDDoesNotReopen(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	tr.Handle(ctx, trace.ResponseStarted("R", "m"))
	tr.Handle(ctx, trace.ResponseCompleted("R", "done", "", nil))
	tr.Handle(ctx, trace.ResponseStarted("R", "m"))
	tr.Handle(ctx, trace.AiTranscript("item_1", "bye"))
	tr.Handle(ctx, trace.AiTranscript("item_1", "bye"))

	gt.Equal(t, tr.OpenCount(), 0)
	gt.A(t, rec.Opened()).Length(2)
	gt.A(t, rec.Closed()).Length(2)
	gt.Equal(t, tr.Close(ctx), 0)
}

func TestLongOutputTruncatedOnRuneBoundary(t *testing.T) {
	tr, rec := newTracer()
	ctx := context.Background()

	out := strings.Repeat("a", 1999) + "é"
	tr.Handle(ctx, trace.ResponseStarted("R", "m"))
	tr.Handle(ctx, trace.ResponseCompleted("R", out, "", nil))

	got := rec.Closed()[0].Output.(string)
	gt.Equal(t, got, strings.Repeat("a", 1999))
	gt.True(t, utf8.ValidString(got))
}

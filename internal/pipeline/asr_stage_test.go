package pipeline_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

func whisperServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pcmTone(n int, amp float64) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.SamplesToPCM16(samples)
}

func newASR(t *testing.T, text string, rec *trace.Recorder) *pipeline.ASRStage {
	srv := whisperServer(t, text)
	router := pipeline.NewASRRouter(map[string]pipeline.ASRTranscriber{
		"whisper": pipeline.NewWhisperClient(srv.URL, srv.Client()),
	}, "whisper")
	vad := audio.DefaultVADConfig()
	vad.SilenceTimeout = 0
	vad.MinSpeechDuration = 0
	return pipeline.NewASRStage(context.Background(), pipeline.ASRStageConfig{
		ASR:    router,
		VAD:    vad,
		Tracer: trace.NewTracer("s", rec),
	})
}

func TestASRStageTranscribesSegment(t *testing.T) {
	rec := trace.NewRecorder()
	stage := newASR(t, " what time do you open ", rec)
	out := newSink()
	stage.Pipe(out)
	ctx := context.Background()

	gt.NoError(t, stage.Listen(ctx, pipeline.AudioFrame(pcmTone(320, 0.5), audio.CodecPCM, 16000)))
	gt.NoError(t, stage.Listen(ctx, pipeline.AudioFrame(make([]byte, 640), audio.CodecPCM, 16000)))

	frames := out.waitFor(t, 2)
	gt.NoError(t, stage.Close())

	gt.Equal(t, frames[0].Kind, pipeline.KindClear)
	gt.Equal(t, frames[1].Kind, pipeline.KindText)
	gt.Equal(t, frames[1].Text, "what time do you open")

	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.Equal(t, closed[0].Kind, trace.KindUserMessage)
	gt.Equal(t, closed[0].Output, any(trace.TextOutput{Text: trace.Voice("what time do you open")}))
}

func TestASRStageDropsNoise(t *testing.T) {
	rec := trace.NewRecorder()
	stage := newASR(t, "[BLANK_AUDIO]", rec)
	out := newSink()
	stage.Pipe(out)
	ctx := context.Background()

	gt.NoError(t, stage.Listen(ctx, pipeline.AudioFrame(pcmTone(320, 0.5), audio.CodecPCM, 16000)))
	gt.NoError(t, stage.Listen(ctx, pipeline.AudioFrame(make([]byte, 640), audio.CodecPCM, 16000)))

	closed := eventually(t, func() []trace.Span { return rec.Closed() })
	gt.NoError(t, stage.Close())
	gt.Equal(t, closed[0].Kind, trace.KindUserMessage)

	frames := out.Frames()
	gt.A(t, frames).Length(1)
	gt.Equal(t, frames[0].Kind, pipeline.KindClear)
}

func TestASRStagePassesTextThrough(t *testing.T) {
	stage := newASR(t, "", trace.NewRecorder())
	out := newSink()
	stage.Pipe(out)
	gt.NoError(t, stage.Listen(context.Background(), pipeline.TextFrame("typed")))
	gt.NoError(t, stage.Close())
	gt.Equal(t, out.Frames()[0].Text, "typed")
}

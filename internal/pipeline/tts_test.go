package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
)

func TestOpenAISynthesizerDecodesWAV(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/audio/speech")
		gt.Equal(t, r.Header.Get("Authorization"), "Bearer key")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write(audio.SamplesToWAV(make([]float32, 480), 24000))
	}))
	defer srv.Close()

	tts := pipeline.NewTTSRouter(map[string]pipeline.TTSSynthesizer{
		"openai": pipeline.NewOpenAISynthesizer(srv.URL, "key", "tts-1", "alloy", srv.Client()),
	}, "openai")

	res, err := tts.Synthesize(context.Background(), "Hi there.", "openai", pipeline.TTSOptions{Voice: "nova"})
	gt.NoError(t, err)
	gt.Equal(t, res.SampleRate, 24000)
	gt.A(t, res.Samples).Length(480)
	gt.Equal(t, got["voice"], any("nova"))
	gt.Equal(t, got["response_format"], any("wav"))
}

func TestElevenLabsSynthesizerDecodesRawPCM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/text-to-speech/voice-1")
		gt.Equal(t, r.URL.Query().Get("output_format"), "pcm_16000")
		gt.Equal(t, r.Header.Get("xi-api-key"), "secret")
		_, _ = w.Write(make([]byte, 320))
	}))
	defer srv.Close()

	synth := pipeline.NewElevenLabsSynthesizer(srv.URL, "secret", "voice-1", "eleven_turbo_v2", srv.Client())
	samples, rate, err := synth.SynthesizeAudio(context.Background(), "Hello.", pipeline.TTSOptions{})
	gt.NoError(t, err)
	gt.Equal(t, rate, 16000)
	gt.A(t, samples).Length(160)
}

func TestSynthesizerReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	synth := pipeline.NewPiperSynthesizer(srv.URL, "en_US-lessac-medium", srv.Client())
	_, _, err := synth.SynthesizeAudio(context.Background(), "Hello.", pipeline.TTSOptions{})
	gt.Error(t, err)
}

func TestTTSRouterWithoutBackends(t *testing.T) {
	tts := pipeline.NewTTSRouter(map[string]pipeline.TTSSynthesizer{}, "piper")
	_, err := tts.Synthesize(context.Background(), "Hello.", "piper", pipeline.TTSOptions{})
	gt.True(t, errors.Is(err, pipeline.ErrNoBackend))
}

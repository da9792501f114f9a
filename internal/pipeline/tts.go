package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

// TTSOptions holds per-call TTS tuning parameters.
type TTSOptions struct {
	Speed float64
	Voice string
}

// TTSSynthesizer is one speech backend. It returns mono samples and their
// sample rate.
type TTSSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]float32, int, error)
}

// TTSResult is one synthesized utterance.
type TTSResult struct {
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	LatencyMs  float64   `json:"latency_ms"`
}

// TTSRouter dispatches to the correct TTS backend based on engine name.
type TTSRouter struct {
	*Router[TTSSynthesizer]
}

func NewTTSRouter(backends map[string]TTSSynthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize routes text to a backend and records latency.
func (r *TTSRouter) Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error) {
	start := time.Now()

	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	samples, rate, err := backend.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, goerr.Wrap(err, "synthesize", goerr.V("engine", engine))
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())
	return &TTSResult{Samples: samples, SampleRate: rate, LatencyMs: float64(latency.Milliseconds())}, nil
}

// speechRequest is one HTTP call to a speech backend.
type speechRequest struct {
	endpoint string
	headers  map[string]string
	body     any
}

// httpSynthesizer covers every backend that takes a JSON POST and answers
// with an audio body. Backends differ only in how the request is built and
// how the body is decoded.
type httpSynthesizer struct {
	client *http.Client
	build  func(text string, opts TTSOptions) speechRequest
	decode func(body []byte) ([]float32, int, error)
}

func (h *httpSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]float32, int, error) {
	req := h.build(text, opts)
	body, err := postJSON(ctx, h.client, req)
	if err != nil {
		return nil, 0, err
	}
	return h.decode(body)
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// NewPiperSynthesizer targets a piper-tts HTTP wrapper that returns WAV.
func NewPiperSynthesizer(baseURL, voice string, client *http.Client) TTSSynthesizer {
	return &httpSynthesizer{
		client: client,
		decode: audio.WAVToSamples,
		build: func(text string, opts TTSOptions) speechRequest {
			return speechRequest{
				endpoint: baseURL + "/synthesize",
				body: struct {
					Text  string `json:"text"`
					Voice string `json:"voice"`
				}{Text: text, Voice: pick(opts.Voice, voice)},
			}
		},
	}
}

// NewOpenAISynthesizer targets any server exposing /v1/audio/speech (OpenAI,
// Kokoro). Audio is requested as WAV.
func NewOpenAISynthesizer(baseURL, apiKey, model, voice string, client *http.Client) TTSSynthesizer {
	return &httpSynthesizer{
		client: client,
		decode: audio.WAVToSamples,
		build: func(text string, opts TTSOptions) speechRequest {
			req := speechRequest{
				endpoint: baseURL + "/v1/audio/speech",
				body: struct {
					Input          string  `json:"input"`
					Model          string  `json:"model"`
					Voice          string  `json:"voice"`
					Speed          float64 `json:"speed,omitempty"`
					ResponseFormat string  `json:"response_format"`
				}{Input: text, Model: model, Voice: pick(opts.Voice, voice), Speed: opts.Speed, ResponseFormat: "wav"},
			}
			if apiKey != "" {
				req.headers = map[string]string{"Authorization": "Bearer " + apiKey}
			}
			return req
		},
	}
}

// elevenlabsRate is the raw PCM rate requested from ElevenLabs.
const elevenlabsRate = 16000

// NewElevenLabsSynthesizer targets the ElevenLabs API, which streams raw
// 16 kHz PCM. An empty baseURL uses the public endpoint.
func NewElevenLabsSynthesizer(baseURL, apiKey, voiceID, modelID string, client *http.Client) TTSSynthesizer {
	baseURL = pick(baseURL, "https://api.elevenlabs.io")
	return &httpSynthesizer{
		client: client,
		decode: func(body []byte) ([]float32, int, error) {
			return audio.Decode(body, audio.CodecPCM, elevenlabsRate)
		},
		build: func(text string, opts TTSOptions) speechRequest {
			return speechRequest{
				endpoint: baseURL + "/v1/text-to-speech/" + url.PathEscape(pick(opts.Voice, voiceID)) + "?output_format=pcm_16000",
				headers:  map[string]string{"xi-api-key": apiKey},
				body: struct {
					Text    string `json:"text"`
					ModelID string `json:"model_id"`
				}{Text: text, ModelID: modelID},
			}
		},
	}
}

func postJSON(ctx context.Context, client *http.Client, sr speechRequest) ([]byte, error) {
	body, err := json.Marshal(sr.body)
	if err != nil {
		return nil, goerr.Wrap(err, "marshal tts request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sr.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create tts request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sr.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "tts request", goerr.V("url", sr.endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, goerr.New("tts status",
			goerr.V("status", resp.StatusCode),
			goerr.V("url", sr.endpoint),
			goerr.V("body", string(snippet)),
		)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "read tts response")
	}
	return data, nil
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

// ASRRate is the sample rate whisper-family models expect.
const ASRRate = 16000

// ASRTranscriber produces transcriptions from audio samples.
type ASRTranscriber interface {
	Transcribe(ctx context.Context, samples []float32) (*ASRResult, error)
}

// ASRResult holds the transcription output.
type ASRResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// ASRRouter dispatches to the correct ASR backend based on engine name.
type ASRRouter struct {
	*Router[ASRTranscriber]
}

func NewASRRouter(backends map[string]ASRTranscriber, fallback string) *ASRRouter {
	return &ASRRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe routes to the correct backend and transcribes the audio.
func (r *ASRRouter) Transcribe(ctx context.Context, samples []float32, engine string) (*ASRResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Transcribe(ctx, samples)
}

// MultipartASRClient sends audio as multipart WAV to any whisper-compatible HTTP endpoint.
// Backends only vary by endpoint path (/inference for whisper.cpp,
// /v1/audio/transcriptions for OpenAI-compatible servers).
type MultipartASRClient struct {
	url      string
	endpoint string
	label    string
	model    string
	apiKey   string
	client   *http.Client
}

// NewWhisperClient creates a client for whisper.cpp server (/inference endpoint).
func NewWhisperClient(url string, client *http.Client) *MultipartASRClient {
	return &MultipartASRClient{url: url, endpoint: "/inference", label: "whisper", client: client}
}

// NewOpenAIASRClient creates a client for an OpenAI-compatible transcription API.
func NewOpenAIASRClient(url, apiKey, model string, client *http.Client) *MultipartASRClient {
	return &MultipartASRClient{
		url:      url,
		endpoint: "/v1/audio/transcriptions",
		label:    "openai-asr",
		model:    model,
		apiKey:   apiKey,
		client:   client,
	}
}

// Transcribe sends 16 kHz mono samples as multipart WAV and returns the transcript.
func (c *MultipartASRClient) Transcribe(ctx context.Context, samples []float32) (*ASRResult, error) {
	start := time.Now()

	body, contentType, err := c.buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+c.endpoint, body)
	if err != nil {
		return nil, goerr.Wrap(err, "create asr request", goerr.V("backend", c.label))
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return nil, goerr.Wrap(err, "asr request", goerr.V("backend", c.label))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return nil, goerr.New("asr status",
			goerr.V("backend", c.label),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(respBody)),
		)
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(err, "decode asr response", goerr.V("backend", c.label))
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())

	return &ASRResult{
		Text:      result.Text,
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func (c *MultipartASRClient) buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", goerr.Wrap(err, "create form file")
	}
	if _, err = part.Write(audio.SamplesToWAV(samples, ASRRate)); err != nil {
		return nil, "", goerr.Wrap(err, "write wav data")
	}
	if c.model != "" {
		if err = writer.WriteField("model", c.model); err != nil {
			return nil, "", goerr.Wrap(err, "write model field")
		}
	}
	if err = writer.Close(); err != nil {
		return nil, "", goerr.Wrap(err, "close multipart writer")
	}
	return &body, writer.FormDataContentType(), nil
}

// ASRStageConfig wires an ASRStage.
type ASRStageConfig struct {
	ASR    *ASRRouter
	Engine string
	VAD    audio.VADConfig
	Tracer *trace.Tracer
}

// ASRStage segments 16 kHz PCM audio with the energy VAD and forwards each
// non-empty transcript as a text frame. A clear frame is forwarded when the
// caller starts speaking so queued playback stops.
type ASRStage struct {
	Link
	cfg    ASRStageConfig
	vad    *audio.VAD
	worker *worker
}

func NewASRStage(ctx context.Context, cfg ASRStageConfig) *ASRStage {
	cfg.VAD.SampleRate = ASRRate
	return &ASRStage{
		cfg:    cfg,
		vad:    audio.NewVAD(cfg.VAD),
		worker: newWorker(ctx, "asr", 8),
	}
}

func (s *ASRStage) Listen(ctx context.Context, f Frame) error {
	if f.Kind != KindAudio {
		return s.Forward(ctx, f)
	}

	samples, rate, err := audio.Decode(f.Audio, f.Codec, f.SampleRate)
	if err != nil {
		return goerr.Wrap(err, "asr decode")
	}
	samples = audio.Resample(samples, rate, ASRRate)

	wasSpeaking := s.vad.Speaking()
	result := s.vad.Process(samples)
	if !wasSpeaking && s.vad.Speaking() {
		if err = s.Forward(ctx, ClearFrame()); err != nil {
			return err
		}
	}
	if !result.SpeechEnded {
		return nil
	}

	metrics.SpeechSegments.Inc()
	itemID := "item_" + uuid.NewString()
	s.cfg.Tracer.Handle(ctx, trace.UserMessage(itemID, []trace.Part{{ID: itemID, Type: "input_audio"}}, true))

	segment := result.Audio
	s.worker.submit(func(wctx context.Context) {
		s.transcribe(wctx, itemID, segment)
	})
	return nil
}

func (s *ASRStage) transcribe(ctx context.Context, itemID string, segment []float32) {
	res, err := s.cfg.ASR.Transcribe(ctx, segment, s.cfg.Engine)
	if err != nil {
		ctxlog.From(ctx).Error("asr transcribe", "error", err)
		s.cfg.Tracer.Handle(ctx, trace.UserTranscript(itemID, "", err.Error()))
		return
	}

	text := strings.TrimSpace(res.Text)
	s.cfg.Tracer.Handle(ctx, trace.UserTranscript(itemID, text, ""))
	if text == "" || isNoiseTranscript(text) {
		return
	}

	ctxlog.From(ctx).Info("transcript", "text", text, "asr_ms", res.LatencyMs)
	if err = s.Forward(ctx, TextFrame(text)); err != nil {
		ctxlog.From(ctx).Error("forward transcript", "error", err)
	}
}

// Close stops transcription; queued segments are discarded.
func (s *ASRStage) Close() error {
	s.worker.stop()
	return nil
}

// noisePatterns are common ASR hallucinations from background noise.
var noisePatterns = map[string]bool{
	"silence": true, "noise": true, "inaudible": true, "unintelligible": true,
	"background noise": true, "music": true, "typing": true, "breathing": true,
	"you": true, "um": true, "uh": true, "hmm": true, "mhm": true,
}

// isNoiseTranscript reports whether the ASR output is likely background noise.
func isNoiseTranscript(text string) bool {
	for _, pair := range []string{"**", "[]", "()"} {
		if strings.HasPrefix(text, pair[:1]) && strings.HasSuffix(text, pair[1:]) {
			return true
		}
	}
	lower := strings.ToLower(strings.Trim(text, ".!? "))
	return noisePatterns[lower]
}

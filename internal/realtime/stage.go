// Package realtime relays call audio to a speech-to-speech model over the
// OpenAI realtime websocket protocol.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/tools"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice = "alloy"
)

var ErrClosed = goerr.New("realtime session closed")

type Config struct {
	URL          string
	Model        string
	APIKey       string
	Voice        string
	Instructions string
	VADThreshold float64
	Temperature  float64
	Tools        *tools.Registry
	Tracer       *trace.Tracer
	Dialer       *websocket.Dialer
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = 0.5
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.8
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Stage is a pipeline stage backed by one realtime websocket. Inbound μ-law
// audio is appended to the model's input buffer; model audio, barge-in
// clears and tool round trips are handled on the socket's read goroutine.
type Stage struct {
	pipeline.Link
	cfg  Config
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
	toolCalls sync.WaitGroup
}

// Dial connects, configures the session and starts the read loop. The read
// loop lives until Close or until the server drops the socket.
func Dial(ctx context.Context, cfg Config) (*Stage, error) {
	cfg.setDefaults()
	endpoint, err := dialURL(cfg.URL, cfg.Model)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := cfg.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		metrics.Errors.WithLabelValues("realtime", "dial").Inc()
		return nil, goerr.Wrap(err, "dial realtime", goerr.V("url", cfg.URL))
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stage{
		cfg:      cfg,
		conn:     conn,
		ctx:      sctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
	if err = s.writeJSON(ctx, s.sessionUpdate()); err != nil {
		cancel()
		conn.Close()
		return nil, goerr.Wrap(err, "send session.update")
	}

	go s.readLoop()
	return s, nil
}

func dialURL(base, model string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", goerr.Wrap(err, "parse realtime url", goerr.V("url", base))
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Stage) sessionUpdate() sessionUpdate {
	cfg := sessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            s.cfg.Instructions,
		Voice:                   s.cfg.Voice,
		InputAudioFormat:        formatG711Ulaw,
		OutputAudioFormat:       formatG711Ulaw,
		InputAudioTranscription: &transcription{Model: defaultTranscriptModel},
		TurnDetection:           &turnDetection{Type: "server_vad", Threshold: s.cfg.VADThreshold},
		Temperature:             s.cfg.Temperature,
	}
	if defs := s.cfg.Tools.Definitions(); len(defs) > 0 {
		cfg.Tools = defs
		cfg.ToolChoice = "auto"
	}
	return sessionUpdate{Type: "session.update", Session: cfg}
}

// Listen sends audio to the model's input buffer and text as a user
// message followed by a response request.
func (s *Stage) Listen(ctx context.Context, f pipeline.Frame) error {
	switch f.Kind {
	case pipeline.KindAudio:
		payload, err := toUlaw(f)
		if err != nil {
			return err
		}
		return s.writeJSON(ctx, audioAppend{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(payload)})

	case pipeline.KindText:
		if strings.TrimSpace(f.Text) == "" {
			return nil
		}
		if err := s.writeJSON(ctx, itemCreate{
			Type: "conversation.item.create",
			Item: item{Type: "message", Role: "user", Content: []contentPart{{Type: "input_text", Text: f.Text}}},
		}); err != nil {
			return err
		}
		return s.writeJSON(ctx, responseCreate{Type: "response.create"})
	}
	return nil
}

// toUlaw converts audio to the 8 kHz μ-law the session is configured for.
func toUlaw(f pipeline.Frame) ([]byte, error) {
	if f.Codec == audio.CodecG711Ulaw {
		return f.Audio, nil
	}
	samples, rate, err := audio.Decode(f.Audio, f.Codec, f.SampleRate)
	if err != nil {
		return nil, goerr.Wrap(err, "decode realtime input")
	}
	return audio.Encode(audio.Resample(samples, rate, audio.TelephonyRate), audio.CodecG711Ulaw)
}

func (s *Stage) readLoop() {
	defer close(s.readDone)
	logger := ctxlog.From(s.ctx)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
					metrics.Errors.WithLabelValues("realtime", "read").Inc()
				}
				logger.Warn("realtime socket closed", "error", err)
			}
			return
		}

		eventType := gjson.GetBytes(data, "type").String()
		metrics.RealtimeEvents.WithLabelValues(eventType).Inc()
		s.cfg.Tracer.Observe(s.ctx, data)
		s.handle(eventType, data)
	}
}

func (s *Stage) handle(eventType string, data []byte) {
	logger := ctxlog.From(s.ctx)
	switch eventType {
	case eventAudioDelta:
		payload, err := base64.StdEncoding.DecodeString(gjson.GetBytes(data, "delta").String())
		if err != nil {
			logger.Warn("invalid audio delta", "error", err)
			return
		}
		if err = s.Forward(s.ctx, pipeline.AudioFrame(payload, audio.CodecG711Ulaw, audio.TelephonyRate)); err != nil {
			logger.Error("forward realtime audio", "error", err)
		}

	case eventSpeechStarted:
		if err := s.Forward(s.ctx, pipeline.ClearFrame()); err != nil {
			logger.Error("forward clear", "error", err)
		}

	case eventFunctionCallDone:
		callID := gjson.GetBytes(data, "call_id").String()
		name := gjson.GetBytes(data, "name").String()
		args := gjson.GetBytes(data, "arguments").String()
		s.toolCalls.Add(1)
		go func() {
			defer s.toolCalls.Done()
			s.runTool(callID, name, args)
		}()

	case eventSessionCreated:
		logger.Info("realtime session created", "id", gjson.GetBytes(data, "session.id").String())

	case eventError:
		metrics.Errors.WithLabelValues("realtime", "server").Inc()
		logger.Error("realtime error",
			"type", gjson.GetBytes(data, "error.type").String(),
			"code", gjson.GetBytes(data, "error.code").String(),
			"message", gjson.GetBytes(data, "error.message").String(),
		)
	}
}

// runTool executes a model-requested function and hands the result back to
// the model. Failures are reported to the model as the tool output.
func (s *Stage) runTool(callID, name, args string) {
	logger := ctxlog.From(s.ctx).With("call_id", callID, "tool", name)
	out, err := s.cfg.Tools.Call(s.ctx, name, args)
	if err != nil {
		logger.Warn("tool call failed", "error", err)
		raw, _ := json.Marshal(map[string]string{"error": err.Error()})
		out = string(raw)
	} else {
		logger.Info("tool call", "output_len", len(out))
	}

	if err = s.writeJSON(s.ctx, itemCreate{
		Type: "conversation.item.create",
		Item: item{Type: "function_call_output", CallID: callID, Output: out},
	}); err != nil {
		logger.Error("send tool output", "error", err)
		return
	}
	if err = s.writeJSON(s.ctx, responseCreate{Type: "response.create"}); err != nil {
		logger.Error("request response after tool", "error", err)
	}
}

func (s *Stage) writeJSON(ctx context.Context, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	if err := s.conn.WriteJSON(payload); err != nil {
		metrics.Errors.WithLabelValues("realtime", "write").Inc()
		return goerr.Wrap(err, "write realtime event")
	}
	return nil
}

// Close ends the session, waits for the read loop and any tool calls in
// flight, and releases the socket.
func (s *Stage) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		close(s.closed)
		s.writeMu.Unlock()

		s.cancel()
		_ = s.conn.Close()
	})
	select {
	case <-s.readDone:
	case <-time.After(5 * time.Second):
	}
	s.toolCalls.Wait()
	return nil
}

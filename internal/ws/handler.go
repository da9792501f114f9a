package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var ErrSessionSetup = goerr.New("call session setup failed")

// SessionRecorder persists call-level trace records. *trace.StoreSink implements it.
type SessionRecorder interface {
	BeginSession(trace.Session)
	EndSession(trace.Session)
}

// HandlerConfig holds what every call session shares.
type HandlerConfig struct {
	Mode            string
	Stages          StageFactory
	MaxConcurrent   int
	OutboundBacklog int
	Sink            trace.Sink
	Sessions        SessionRecorder
	TracerOptions   []trace.Option
}

// Handler serves Twilio media-stream websockets with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// ServeHTTP upgrades the connection and runs the call session.
// Returns 503 if at max concurrent call capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		metrics.CallsRejected.Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.CallsActive.Inc()
	metrics.CallsTotal.WithLabelValues(h.cfg.Mode).Inc()
	defer metrics.CallsActive.Dec()

	h.runSession(r.Context(), conn)
}

// session is the state of one call.
type session struct {
	h         *Handler
	ctx       context.Context
	record    trace.Session
	tracer    *trace.Tracer
	transport *Transport
	chain     *pipeline.Chain
}

func (h *Handler) runSession(parent context.Context, conn *websocket.Conn) {
	sessionID := uuid.NewString()
	logger := slog.Default().With("session_id", sessionID, "mode", h.cfg.Mode)
	ctx, cancel := context.WithCancel(ctxlog.With(context.WithoutCancel(parent), logger))
	defer cancel()

	s := &session{
		h:      h,
		ctx:    ctx,
		record: trace.Session{ID: sessionID, Mode: h.cfg.Mode, StartedAt: time.Now()},
		tracer: trace.NewTracer(sessionID, h.cfg.Sink, h.cfg.TracerOptions...),
	}
	s.transport = NewTransport(conn, h.cfg.OutboundBacklog, s.start)

	logger.Info("call connected")
	s.readLoop(conn)
	s.teardown()
}

// start builds the call's chain when the stream starts.
func (s *session) start(ctx context.Context, info StreamInfo) error {
	logger := ctxlog.From(ctx).With("call_sid", info.CallSID, "stream_sid", info.StreamSID)
	s.ctx = ctxlog.With(s.ctx, logger)
	s.record.CallSID = info.CallSID
	s.record.StreamSID = info.StreamSID
	if s.h.cfg.Sessions != nil {
		s.h.cfg.Sessions.BeginSession(s.record)
	}

	stages, err := s.h.cfg.Stages(s.ctx, s.tracer)
	if err != nil {
		return goerr.Wrap(ErrSessionSetup, "build stages", goerr.V("cause", err.Error()))
	}
	chain, err := pipeline.NewChain(true, append([]pipeline.Stage{s.transport}, stages...)...)
	if err != nil {
		return goerr.Wrap(ErrSessionSetup, "chain stages", goerr.V("cause", err.Error()))
	}
	s.chain = chain
	logger.Info("call started", "from", info.From, "to", info.To, "stages", len(chain.Stages()))
	return nil
}

func (s *session) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			ctxlog.From(s.ctx).Info("connection closed", "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		done, err := s.transport.Receive(s.ctx, data)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrAlreadyActive):
			ctxlog.From(s.ctx).Warn("media stream message", "error", err)
		default:
			metrics.Errors.WithLabelValues("transport", "session").Inc()
			ctxlog.From(s.ctx).Error("call failed", "error", err)
			return
		}
		if done {
			return
		}
	}
}

// teardown closes every stage, force-closes open spans and ends the trace session.
func (s *session) teardown() {
	logger := ctxlog.From(s.ctx)
	if s.chain != nil {
		if err := s.chain.Close(); err != nil {
			logger.Error("close stages", "error", err)
		}
	}
	forced := s.tracer.Close(s.ctx)

	ended := time.Now()
	s.record.EndedAt = &ended
	if s.h.cfg.Sessions != nil && s.record.StreamSID != "" {
		s.h.cfg.Sessions.EndSession(s.record)
	}
	logger.Info("call ended", "forced_spans", forced, "duration_ms", ended.Sub(s.record.StartedAt).Milliseconds())
}

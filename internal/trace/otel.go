package trace

import (
	"context"
	"encoding/json"
	"sync"

	otelAPI "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hubenschmidt/twilio-realtime-relay"

type OTelOption func(*OTelSink)

func WithTracerProvider(tp otelTrace.TracerProvider) OTelOption {
	return func(s *OTelSink) {
		s.tracerProvider = tp
	}
}

// OTelSink exports each span as an OpenTelemetry span. Spans are started on
// Open and ended on Close with the recorded timestamps.
type OTelSink struct {
	tracerProvider otelTrace.TracerProvider
	tracer         otelTrace.Tracer

	mu   sync.Mutex
	live map[string]otelTrace.Span
}

func NewOTelSink(opts ...OTelOption) *OTelSink {
	s := &OTelSink{live: make(map[string]otelTrace.Span)}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otelAPI.GetTracerProvider()
	}
	s.tracer = s.tracerProvider.Tracer(tracerName)
	return s
}

func (s *OTelSink) Open(ctx context.Context, sp Span) {
	_, span := s.tracer.Start(ctx, string(sp.Kind),
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
		otelTrace.WithTimestamp(sp.StartedAt),
		otelTrace.WithAttributes(
			attribute.String("relay.session_id", sp.SessionID),
			attribute.String("relay.correlation_id", sp.CorrelationID),
			attribute.String("relay.input", jsonAttr(sp.Input)),
		),
	)
	if sp.Model != "" {
		span.SetAttributes(attribute.String("llm.model", sp.Model))
	}

	s.mu.Lock()
	s.live[sp.ID] = span
	s.mu.Unlock()
}

func (s *OTelSink) Close(ctx context.Context, sp Span) {
	s.mu.Lock()
	span, ok := s.live[sp.ID]
	delete(s.live, sp.ID)
	s.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("relay.output", jsonAttr(sp.Output)),
		attribute.Bool("relay.forced", sp.Forced),
	)
	if sp.Usage != nil {
		span.SetAttributes(
			attribute.Int64("llm.input_tokens", sp.Usage.InputTokens),
			attribute.Int64("llm.output_tokens", sp.Usage.OutputTokens),
		)
	}
	if sp.Cost != nil {
		span.SetAttributes(attribute.Float64("llm.cost_usd", sp.Cost.Total))
	}
	if sp.Error != "" {
		span.SetStatus(codes.Error, sp.Error)
	}

	var endOpts []otelTrace.SpanEndOption
	if sp.EndedAt != nil {
		endOpts = append(endOpts, otelTrace.WithTimestamp(*sp.EndedAt))
	}
	span.End(endOpts...)
}

func jsonAttr(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.RawMessage:
		return string(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

package trace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/m-mizutani/ctxlog"
)

// Sink receives spans as the tracer opens and closes them. Implementations
// must not block; the tracer calls them while holding its lock.
type Sink interface {
	Open(ctx context.Context, sp Span)
	Close(ctx context.Context, sp Span)
}

type multiSink []Sink

// Multi fans spans out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multiSink) Open(ctx context.Context, sp Span) {
	for _, s := range m {
		s.Open(ctx, sp)
	}
}

func (m multiSink) Close(ctx context.Context, sp Span) {
	for _, s := range m {
		s.Close(ctx, sp)
	}
}

// Recorder keeps every span it sees in memory.
type Recorder struct {
	mu     sync.Mutex
	opened []Span
	closed []Span
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Open(_ context.Context, sp Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, sp)
}

func (r *Recorder) Close(_ context.Context, sp Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, sp)
}

// Opened returns a copy of the opened spans in arrival order.
func (r *Recorder) Opened() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Span(nil), r.opened...)
}

// Closed returns a copy of the closed spans in arrival order.
func (r *Recorder) Closed() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Span(nil), r.closed...)
}

// LogSink writes span lifecycle through the slog logger carried by ctx
// (see ctxlog.With), so session attributes come along.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) logger(ctx context.Context) *slog.Logger {
	return ctxlog.From(ctx)
}

func (s *LogSink) Open(ctx context.Context, sp Span) {
	s.logger(ctx).Debug("span opened",
		"span_id", sp.ID,
		"kind", sp.Kind,
		"correlation_id", sp.CorrelationID,
	)
}

func (s *LogSink) Close(ctx context.Context, sp Span) {
	attrs := []any{
		"span_id", sp.ID,
		"kind", sp.Kind,
		"correlation_id", sp.CorrelationID,
		"level", sp.Level,
		"forced", sp.Forced,
	}
	if sp.Cost != nil {
		attrs = append(attrs, "cost_usd", sp.Cost.Total)
	}
	if sp.Error != "" {
		attrs = append(attrs, "span_error", sp.Error)
		s.logger(ctx).Warn("span closed", attrs...)
		return
	}
	s.logger(ctx).Info("span closed", attrs...)
}

package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

// spanWriter is the subset of Store the sink writes through.
type spanWriter interface {
	CreateSession(ctx context.Context, sess Session) error
	EndSession(ctx context.Context, sess Session) error
	UpsertSpan(ctx context.Context, sp Span) error
}

type storeMsg struct {
	kind string // "session_start", "session_end", "span"
	sess Session
	span Span
}

// StoreSink writes spans and session bounds asynchronously via a buffered
// channel drained by one goroutine, so database latency never reaches a call.
type StoreSink struct {
	store   spanWriter
	timeout time.Duration
	ch      chan storeMsg
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewStoreSink starts the writer goroutine. Must call Close when done.
func NewStoreSink(store spanWriter, buffer int) *StoreSink {
	s := &StoreSink{
		store:   store,
		timeout: 5 * time.Second,
		ch:      make(chan storeMsg, buffer),
		done:    make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *StoreSink) drain() {
	defer close(s.done)
	for msg := range s.ch {
		s.handle(msg)
	}
}

func (s *StoreSink) handle(m storeMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	switch m.kind {
	case "session_start":
		err = s.store.CreateSession(ctx, m.sess)
	case "session_end":
		err = s.store.EndSession(ctx, m.sess)
	case "span":
		err = s.store.UpsertSpan(ctx, m.span)
	default:
		return
	}
	if err != nil {
		metrics.Errors.WithLabelValues("trace_store", m.kind).Inc()
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

func (s *StoreSink) send(m storeMsg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- m:
	default:
		metrics.FramesDropped.WithLabelValues("trace_store_full").Inc()
	}
}

// BeginSession records the start of a call.
func (s *StoreSink) BeginSession(sess Session) {
	s.send(storeMsg{kind: "session_start", sess: sess})
}

// EndSession records the end of a call.
func (s *StoreSink) EndSession(sess Session) {
	s.send(storeMsg{kind: "session_end", sess: sess})
}

func (s *StoreSink) Open(_ context.Context, sp Span) {
	s.send(storeMsg{kind: "span", span: sp})
}

func (s *StoreSink) Close(_ context.Context, sp Span) {
	s.send(storeMsg{kind: "span", span: sp})
}

// Shutdown drains pending writes and stops the background goroutine.
func (s *StoreSink) Shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}

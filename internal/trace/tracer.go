package trace

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

const (
	maxIOLen = 2000
	// recentClosedCap bounds how many closed ids are remembered to detect reopens.
	recentClosedCap = 1024
)

type openSpan struct {
	span Span
	seq  uint64
}

// Tracer turns one session's event stream into spans. Each correlation id
// has at most one open span; a span is closed exactly once and then
// forgotten. All methods are nil-safe (no-op on nil receiver) and safe for
// concurrent use.
type Tracer struct {
	sessionID string
	sink      Sink
	pricing   Pricing
	now       func() time.Time

	mu     sync.Mutex
	open   map[string]*openSpan
	seq    uint64
	closed bool

	recent     map[string]struct{}
	recentRing []string
	recentNext int
}

type Option func(*Tracer)

func WithPricing(p Pricing) Option {
	return func(t *Tracer) { t.pricing = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// NewTracer creates a tracer bound to a session. Must call Close when done.
func NewTracer(sessionID string, sink Sink, opts ...Option) *Tracer {
	if sink == nil {
		sink = Multi()
	}
	t := &Tracer{
		sessionID: sessionID,
		sink:      sink,
		pricing:   DefaultPricing(),
		now:       time.Now,
		open:      make(map[string]*openSpan),
		recent:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracer) SessionID() string {
	if t == nil {
		return ""
	}
	return t.sessionID
}

// Observe classifies a raw realtime event and handles it. Unrecognized
// events are ignored.
func (t *Tracer) Observe(ctx context.Context, raw []byte) {
	if t == nil {
		return
	}
	if ev, ok := Classify(raw); ok {
		t.Handle(ctx, ev)
	}
}

// Handle applies one normalized event.
func (t *Tracer) Handle(ctx context.Context, ev Event) {
	if t == nil || ev.ID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	switch ev.Type {
	case EventUserMessage:
		sp := t.newSpan(KindUserMessage, ev)
		if ev.Pending {
			t.openSpan(ctx, sp)
			return
		}
		t.instant(ctx, sp, nil)

	case EventUserTranscript, EventToolCallCompleted:
		t.closeSpan(ctx, ev.ID, func(sp *Span) {
			sp.Output = ev.Output
			t.setError(sp, ev.Error)
		})

	case EventToolCallStarted:
		t.openSpan(ctx, t.newSpan(KindToolCall, ev))

	case EventResponseStarted:
		t.openSpan(ctx, t.newSpan(KindAiResponse, ev))

	case EventResponseCompleted:
		t.closeSpan(ctx, ev.ID, func(sp *Span) {
			sp.Output = ev.Output
			t.setError(sp, ev.Error)
			if ev.Usage != nil {
				cost := t.pricing.Cost(*ev.Usage)
				sp.Usage = ev.Usage
				sp.Cost = &cost
				metrics.ResponseCost.Add(cost.Total)
			}
		})

	case EventAiTranscript:
		t.instant(ctx, t.newSpan(KindAiMessage, Event{ID: ev.ID, Input: map[string]string{"id": ev.ID}}), func(sp *Span) {
			sp.Output = ev.Output
		})
	}
}

// OpenCount reports how many spans are waiting to be closed.
func (t *Tracer) OpenCount() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Close force-closes every open span with NoOutput, oldest first, and
// returns how many were closed. Events handled after Close are ignored.
func (t *Tracer) Close(ctx context.Context) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	t.closed = true

	pending := make([]*openSpan, 0, len(t.open))
	for _, o := range t.open {
		pending = append(pending, o)
	}
	slices.SortFunc(pending, func(a, b *openSpan) int { return cmp.Compare(a.seq, b.seq) })

	for _, o := range pending {
		sp := o.span
		sp.Output = NoOutput
		sp.Forced = true
		t.finish(ctx, &sp)
		metrics.SpansClosed.WithLabelValues(string(sp.Kind), "forced").Inc()
	}
	clear(t.open)

	if len(pending) > 0 {
		ctxlog.From(ctx).Info("trace spans force-closed", "count", len(pending))
	}
	return len(pending)
}

func (t *Tracer) newSpan(kind Kind, ev Event) Span {
	return Span{
		ID:            uuid.NewString(),
		SessionID:     t.sessionID,
		CorrelationID: ev.ID,
		Kind:          kind,
		Input:         truncateAny(ev.Input),
		Level:         LevelDefault,
		Model:         ev.Model,
		StartedAt:     t.now(),
	}
}

// admit reports whether a span may open for sp's id. An id that is open or
// was recently closed is flagged and refused.
func (t *Tracer) admit(ctx context.Context, sp Span) bool {
	if existing, dup := t.open[sp.CorrelationID]; dup {
		metrics.TraceAnomalies.WithLabelValues(string(sp.Kind), "duplicate_open").Inc()
		ctxlog.From(ctx).Warn("span already open, keeping first",
			"correlation_id", sp.CorrelationID,
			"kind", sp.Kind,
			"open_kind", existing.span.Kind,
		)
		return false
	}
	if _, done := t.recent[sp.CorrelationID]; done {
		metrics.TraceAnomalies.WithLabelValues(string(sp.Kind), "reopen_closed").Inc()
		ctxlog.From(ctx).Warn("span id already closed, ignoring reopen",
			"correlation_id", sp.CorrelationID,
			"kind", sp.Kind,
		)
		return false
	}
	return true
}

// remember records id as closed, evicting the oldest once the ring is full.
func (t *Tracer) remember(id string) {
	if len(t.recentRing) < recentClosedCap {
		t.recentRing = append(t.recentRing, id)
	} else {
		delete(t.recent, t.recentRing[t.recentNext])
		t.recentRing[t.recentNext] = id
		t.recentNext = (t.recentNext + 1) % recentClosedCap
	}
	t.recent[id] = struct{}{}
}

func (t *Tracer) openSpan(ctx context.Context, sp Span) {
	if !t.admit(ctx, sp) {
		return
	}
	t.seq++
	t.open[sp.CorrelationID] = &openSpan{span: sp, seq: t.seq}
	metrics.SpansOpened.WithLabelValues(string(sp.Kind)).Inc()
	t.sink.Open(ctx, sp)
}

func (t *Tracer) closeSpan(ctx context.Context, id string, apply func(*Span)) {
	o, ok := t.open[id]
	if !ok {
		metrics.TraceAnomalies.WithLabelValues("", "close_without_open").Inc()
		ctxlog.From(ctx).Debug("no open span to close", "correlation_id", id)
		return
	}
	delete(t.open, id)

	sp := o.span
	apply(&sp)
	t.finish(ctx, &sp)
	metrics.SpansClosed.WithLabelValues(string(sp.Kind), outcome(sp)).Inc()
}

// instant emits a span that opens and closes in one step.
func (t *Tracer) instant(ctx context.Context, sp Span, apply func(*Span)) {
	if !t.admit(ctx, sp) {
		return
	}
	metrics.SpansOpened.WithLabelValues(string(sp.Kind)).Inc()
	t.sink.Open(ctx, sp)
	if apply != nil {
		apply(&sp)
	}
	t.finish(ctx, &sp)
	metrics.SpansClosed.WithLabelValues(string(sp.Kind), outcome(sp)).Inc()
}

func (t *Tracer) finish(ctx context.Context, sp *Span) {
	t.remember(sp.CorrelationID)
	end := t.now()
	sp.EndedAt = &end
	sp.Output = truncateAny(sp.Output)
	t.sink.Close(ctx, *sp)
}

func (t *Tracer) setError(sp *Span, msg string) {
	if msg == "" {
		return
	}
	sp.Error = msg
	sp.Level = LevelError
}

func outcome(sp Span) string {
	if sp.Level == LevelError {
		return "error"
	}
	return "ok"
}

// truncateAny shortens plain string payloads; structured payloads are kept.
func truncateAny(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return truncate(s, maxIOLen)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

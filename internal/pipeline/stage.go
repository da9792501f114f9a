package pipeline

import (
	"context"
	"sync"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

// Kind says what a Frame carries.
type Kind int

const (
	KindAudio Kind = iota
	KindText
	// KindClear asks the consumer to discard audio it has buffered but not yet played.
	KindClear
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	case KindClear:
		return "clear"
	}
	return "unknown"
}

// Frame is the unit of data passed between stages.
type Frame struct {
	Kind       Kind
	Audio      []byte
	Codec      audio.Codec
	SampleRate int
	Text       string
}

// AudioFrame builds an audio frame.
func AudioFrame(data []byte, codec audio.Codec, sampleRate int) Frame {
	return Frame{Kind: KindAudio, Audio: data, Codec: codec, SampleRate: sampleRate}
}

func TextFrame(text string) Frame {
	return Frame{Kind: KindText, Text: text}
}

func ClearFrame() Frame {
	return Frame{Kind: KindClear}
}

// Stage is one processing step of a call. Listen accepts a frame and returns
// once the stage and everything it forwarded to synchronously has consumed it.
// Pipe links the single downstream consumer and returns it so chains compose
// left to right: a.Pipe(b).Pipe(c).Pipe(a).
type Stage interface {
	Listen(ctx context.Context, f Frame) error
	Pipe(next Stage) Stage
}

// Link holds a stage's downstream consumer. Stages embed it to get Pipe and
// Forward. Output with no consumer is dropped.
type Link struct {
	mu   sync.RWMutex
	next Stage
}

// Pipe replaces the downstream consumer.
func (l *Link) Pipe(next Stage) Stage {
	l.mu.Lock()
	l.next = next
	l.mu.Unlock()
	return next
}

// Next returns the current consumer, or nil.
func (l *Link) Next() Stage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.next
}

// Forward hands f to the downstream consumer.
func (l *Link) Forward(ctx context.Context, f Frame) error {
	next := l.Next()
	if next == nil {
		metrics.FramesDropped.WithLabelValues("no_consumer").Inc()
		return nil
	}
	return next.Listen(ctx, f)
}

// Func adapts a function into a Stage. The function receives the frame and a
// forward callback bound to the stage's consumer.
type Func struct {
	Link
	fn func(ctx context.Context, f Frame, forward func(context.Context, Frame) error) error
}

// NewFunc creates a Stage from fn.
func NewFunc(fn func(ctx context.Context, f Frame, forward func(context.Context, Frame) error) error) *Func {
	return &Func{fn: fn}
}

func (s *Func) Listen(ctx context.Context, f Frame) error {
	return s.fn(ctx, f, s.Forward)
}

// Passthrough forwards every frame unchanged.
func Passthrough() *Func {
	return NewFunc(func(ctx context.Context, f Frame, forward func(context.Context, Frame) error) error {
		return forward(ctx, f)
	})
}

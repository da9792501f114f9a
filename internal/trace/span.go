package trace

import "time"

// Kind names a span's role in the conversation.
type Kind string

const (
	KindUserMessage Kind = "UserMessage"
	KindToolCall    Kind = "ToolCall"
	KindAiResponse  Kind = "AiResponse"
	KindAiMessage   Kind = "AiMessage"
)

type Level string

const (
	LevelDefault Level = "DEFAULT"
	LevelError   Level = "ERROR"
)

// NoOutput is recorded on spans still open when their session ends.
const NoOutput = "NO_OUTPUT"

// Span is one traced unit of conversation work. CorrelationID is the vendor
// id (item id, call id or response id) the span was opened under.
type Span struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	CorrelationID string     `json:"correlation_id"`
	Kind          Kind       `json:"kind"`
	Input         any        `json:"input,omitempty"`
	Output        any        `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	Level         Level      `json:"level"`
	Model         string     `json:"model,omitempty"`
	Usage         *Usage     `json:"usage,omitempty"`
	Cost          *Cost      `json:"cost,omitempty"`
	Forced        bool       `json:"forced,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Session summarizes one traced call.
type Session struct {
	ID        string     `json:"id"`
	CallSID   string     `json:"call_sid,omitempty"`
	StreamSID string     `json:"stream_sid,omitempty"`
	Mode      string     `json:"mode"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	SpanCount int        `json:"span_count,omitempty"`
}

// Part is one content part of a user message as shown in span input.
type Part struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolInput is the input recorded on a ToolCall span.
type ToolInput struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutput is the output recorded when a ToolCall span closes.
type ToolOutput struct {
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
}

// TextOutput carries a transcript and an optional error payload.
type TextOutput struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Voice wraps a spoken transcript so it reads apart from typed text.
func Voice(transcript string) string {
	return "<voice>" + transcript + "</voice>"
}

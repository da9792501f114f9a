package trace

// EventType discriminates normalized conversation events.
type EventType string

const (
	EventUserMessage       EventType = "user_message"
	EventUserTranscript    EventType = "user_transcript"
	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventResponseStarted   EventType = "response_started"
	EventResponseCompleted EventType = "response_completed"
	EventAiTranscript      EventType = "ai_transcript"
)

// Event is a vendor-neutral conversation event. ID is the correlation id
// shared by the events that open and close one span.
type Event struct {
	Type   EventType
	ID     string
	Input  any
	Output any
	Error  string
	// Pending marks a user message whose audio transcript has not arrived yet.
	Pending bool
	Usage   *Usage
	Model   string
}

// UserMessage reports a user turn. Pending turns stay open until UserTranscript.
func UserMessage(id string, parts []Part, pending bool) Event {
	return Event{Type: EventUserMessage, ID: id, Input: parts, Pending: pending}
}

func UserTranscript(id, transcript, errMsg string) Event {
	out := TextOutput{Error: errMsg}
	if transcript != "" {
		out.Text = Voice(transcript)
	}
	return Event{Type: EventUserTranscript, ID: id, Output: out, Error: errMsg}
}

func ToolCallStarted(callID, name, arguments string) Event {
	return Event{
		Type:  EventToolCallStarted,
		ID:    callID,
		Input: ToolInput{ID: callID, Name: name, Arguments: arguments},
	}
}

func ToolCallCompleted(callID, arguments, output string) Event {
	return Event{
		Type:   EventToolCallCompleted,
		ID:     callID,
		Output: ToolOutput{Arguments: arguments, Output: output},
	}
}

func ResponseStarted(id, model string) Event {
	return Event{Type: EventResponseStarted, ID: id, Model: model}
}

func ResponseCompleted(id string, output any, errMsg string, usage *Usage) Event {
	return Event{Type: EventResponseCompleted, ID: id, Output: output, Error: errMsg, Usage: usage}
}

func AiTranscript(id, transcript string) Event {
	return Event{Type: EventAiTranscript, ID: id, Output: TextOutput{Text: Voice(transcript)}}
}

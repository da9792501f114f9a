package realtime

import "github.com/hubenschmidt/twilio-realtime-relay/internal/tools"

// Client events sent to the realtime API.

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *transcription     `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection     `json:"turn_detection,omitempty"`
	Tools                   []tools.Definition `json:"tools,omitempty"`
	ToolChoice              string             `json:"tool_choice,omitempty"`
	Temperature             float64            `json:"temperature"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type      string  `json:"type"`
	Threshold float64 `json:"threshold"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string `json:"type"`
	Item item   `json:"item"`
}

type item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreate struct {
	Type string `json:"type"`
}

// Server event types the stage acts on. Everything else only reaches the tracer.
const (
	eventAudioDelta        = "response.audio.delta"
	eventSpeechStarted     = "input_audio_buffer.speech_started"
	eventFunctionCallDone  = "response.function_call_arguments.done"
	eventError             = "error"
	eventSessionCreated    = "session.created"
	formatG711Ulaw         = "g711_ulaw"
	defaultTranscriptModel = "whisper-1"
)

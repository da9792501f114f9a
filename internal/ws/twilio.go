package ws

// Twilio Media Streams message shapes. Only the fields the relay reads are
// declared.

type inbound struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type outboundMedia struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     outboundAudio `json:"media"`
}

type outboundAudio struct {
	Payload string `json:"payload"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventStop      = "stop"
	eventMark      = "mark"
	eventClear     = "clear"
)

// StreamInfo is what the start event tells us about the call.
type StreamInfo struct {
	CallSID   string
	StreamSID string
	From      string
	To        string
	Params    map[string]string
}

package trace

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RealtimeModel is the model name attached to AiResponse spans from the
// realtime API.
const RealtimeModel = "gpt-4o-realtime-preview"

// Classify maps a raw realtime API event to a normalized Event. It reports
// false for event types that carry no trace information and for events
// missing the id they need. It never fails.
func Classify(raw []byte) (Event, bool) {
	if !gjson.ValidBytes(raw) {
		return Event{}, false
	}
	root := gjson.ParseBytes(raw)

	switch root.Get("type").String() {
	case "conversation.item.created":
		return classifyItem(root.Get("item"))

	case "conversation.item.input_audio_transcription.completed":
		id, transcript := root.Get("item_id"), root.Get("transcript")
		if !notEmpty(id) || !notEmpty(transcript) {
			return Event{}, false
		}
		return UserTranscript(id.String(), strings.TrimSpace(transcript.String()), ""), true

	case "conversation.item.input_audio_transcription.failed":
		id := root.Get("item_id")
		if !notEmpty(id) {
			return Event{}, false
		}
		return UserTranscript(id.String(), "", objectRaw(root.Get("error"))), true

	case "response.audio_transcript.done":
		id, transcript := root.Get("item_id"), root.Get("transcript")
		if !notEmpty(id) || !notEmpty(transcript) {
			return Event{}, false
		}
		return AiTranscript(id.String(), strings.TrimSpace(transcript.String())), true

	case "response.created":
		id := root.Get("response.id")
		if !notEmpty(id) {
			return Event{}, false
		}
		return ResponseStarted(id.String(), RealtimeModel), true

	case "response.done":
		return classifyResponseDone(root.Get("response"))
	}
	return Event{}, false
}

func classifyItem(item gjson.Result) (Event, bool) {
	if !item.IsObject() || !notEmpty(item.Get("id")) {
		return Event{}, false
	}

	switch item.Get("type").String() {
	case "message":
		if item.Get("role").String() != "user" {
			return Event{}, false
		}
		id := item.Get("id").String()
		parts, textOnly := userParts(id, item.Get("content"))
		return UserMessage(id, parts, !textOnly), true

	case "function_call":
		callID := item.Get("call_id")
		if !notEmpty(callID) {
			return Event{}, false
		}
		return ToolCallStarted(callID.String(), item.Get("name").String(), item.Get("arguments").String()), true

	case "function_call_output":
		callID := item.Get("call_id")
		if !notEmpty(callID) {
			return Event{}, false
		}
		return ToolCallCompleted(callID.String(), item.Get("arguments").String(), item.Get("output").String()), true
	}
	return Event{}, false
}

// userParts renders each content part and reports whether every part is
// typed text.
func userParts(id string, content gjson.Result) ([]Part, bool) {
	parts := []Part{}
	textOnly := true
	content.ForEach(func(_, c gjson.Result) bool {
		p := Part{ID: id, Type: c.Get("type").String()}
		if text := strings.TrimSpace(c.Get("text").String()); text != "" {
			p.Text = text
		} else if transcript := c.Get("transcript"); notEmpty(transcript) {
			p.Text = Voice(strings.TrimSpace(transcript.String()))
		}
		if p.Type != "input_text" {
			textOnly = false
		}
		parts = append(parts, p)
		return true
	})
	return parts, textOnly
}

func classifyResponseDone(resp gjson.Result) (Event, bool) {
	if !resp.IsObject() || !notEmpty(resp.Get("id")) {
		return Event{}, false
	}

	var errMsg string
	if resp.Get("status").String() == "failed" {
		errMsg = objectRaw(resp.Get("status_details"))
	}

	var usage *Usage
	if u := resp.Get("usage"); u.IsObject() {
		var parsed Usage
		if json.Unmarshal([]byte(u.Raw), &parsed) == nil {
			usage = &parsed
		}
	}

	return ResponseCompleted(resp.Get("id").String(), stripAudio(resp.Get("output")), errMsg, usage), true
}

// stripAudio drops base64 audio from every content part of a response output
// so spans stay small.
func stripAudio(output gjson.Result) json.RawMessage {
	if !output.IsArray() {
		return json.RawMessage("[]")
	}
	out := output.Raw
	for i, item := range output.Array() {
		for j, part := range item.Get("content").Array() {
			if !part.Get("audio").Exists() {
				continue
			}
			path := strconv.Itoa(i) + ".content." + strconv.Itoa(j) + ".audio"
			if stripped, err := sjson.Delete(out, path); err == nil {
				out = stripped
			}
		}
	}
	return json.RawMessage(out)
}

func notEmpty(r gjson.Result) bool {
	return r.Type == gjson.String && strings.TrimSpace(r.Str) != ""
}

// objectRaw returns the JSON text of a non-empty object, or "".
func objectRaw(r gjson.Result) string {
	if !r.IsObject() || len(r.Map()) == 0 {
		return ""
	}
	return r.Raw
}

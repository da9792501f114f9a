package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/audio"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
)

var (
	ErrInvalidFrame  = goerr.New("invalid media stream frame")
	ErrNotTelephony  = goerr.New("outbound audio must be 8 kHz mu-law")
	ErrAlreadyActive = goerr.New("media stream already started")
)

// messageWriter is the write half of a websocket connection.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Transport is the telephony end of a call's chain. Inbound media is
// forwarded downstream; frames it receives through Listen are written back
// to the call.
type Transport struct {
	pipeline.Link
	conn    messageWriter
	onStart func(ctx context.Context, info StreamInfo) error
	writeMu sync.Mutex

	mu         sync.Mutex
	streamSID  string
	backlog    []pipeline.Frame
	maxBacklog int
}

// NewTransport wraps conn. onStart runs once when the start event arrives,
// before any media is forwarded. Outbound frames produced before the stream
// sid is known are queued up to backlog and dropped beyond it.
func NewTransport(conn messageWriter, backlog int, onStart func(ctx context.Context, info StreamInfo) error) *Transport {
	return &Transport{conn: conn, onStart: onStart, maxBacklog: backlog}
}

func (t *Transport) StreamSID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamSID
}

// Receive handles one inbound Twilio message. done reports a stop event.
func (t *Transport) Receive(ctx context.Context, data []byte) (done bool, err error) {
	var msg inbound
	if err = json.Unmarshal(data, &msg); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return false, goerr.Wrap(ErrInvalidFrame, "decode message", goerr.V("cause", err.Error()))
	}
	metrics.FramesIn.WithLabelValues(msg.Event).Inc()
	logger := ctxlog.From(ctx)

	switch msg.Event {
	case eventConnected:
		logger.Debug("media stream connected")

	case eventStart:
		return false, t.start(ctx, msg)

	case eventMedia:
		if t.StreamSID() == "" {
			metrics.FramesDropped.WithLabelValues("before_start").Inc()
			return false, nil
		}
		if msg.Media == nil {
			return false, goerr.Wrap(ErrInvalidFrame, "media without payload")
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return false, nil
		}
		payload, decodeErr := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if decodeErr != nil {
			metrics.FramesDropped.WithLabelValues("bad_payload").Inc()
			return false, goerr.Wrap(ErrInvalidFrame, "media payload", goerr.V("cause", decodeErr.Error()))
		}
		return false, t.Forward(ctx, pipeline.AudioFrame(payload, audio.CodecG711Ulaw, audio.TelephonyRate))

	case eventMark:
		if msg.Mark != nil {
			logger.Debug("mark", "name", msg.Mark.Name)
		}

	case eventStop:
		logger.Info("media stream stopped")
		return true, nil

	default:
		logger.Debug("ignoring media stream event", "event", msg.Event)
	}
	return false, nil
}

func (t *Transport) start(ctx context.Context, msg inbound) error {
	if msg.Start == nil {
		return goerr.Wrap(ErrInvalidFrame, "start without payload")
	}
	streamSID := msg.Start.StreamSID
	if streamSID == "" {
		streamSID = msg.StreamSID
	}
	if streamSID == "" {
		return goerr.Wrap(ErrInvalidFrame, "start without stream sid")
	}
	if t.StreamSID() != "" {
		return goerr.Wrap(ErrAlreadyActive, "start", goerr.V("stream_sid", streamSID))
	}

	info := StreamInfo{
		CallSID:   msg.Start.CallSID,
		StreamSID: streamSID,
		From:      msg.Start.CustomParameters["from"],
		To:        msg.Start.CustomParameters["to"],
		Params:    msg.Start.CustomParameters,
	}
	if t.onStart != nil {
		if err := t.onStart(ctx, info); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.streamSID = streamSID
	pending := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	for _, f := range pending {
		if err := t.Listen(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Listen writes audio and clear frames back to the call. Text frames are
// ignored.
func (t *Transport) Listen(ctx context.Context, f pipeline.Frame) error {
	if f.Kind == pipeline.KindText {
		return nil
	}
	if f.Kind == pipeline.KindAudio && (f.Codec != audio.CodecG711Ulaw || f.SampleRate != audio.TelephonyRate) {
		return goerr.Wrap(ErrNotTelephony, "outbound audio", goerr.V("codec", f.Codec), goerr.V("rate", f.SampleRate))
	}

	t.mu.Lock()
	streamSID := t.streamSID
	if streamSID == "" {
		if len(t.backlog) < t.maxBacklog {
			t.backlog = append(t.backlog, f)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		metrics.FramesDropped.WithLabelValues("no_stream_sid").Inc()
		return nil
	}
	t.mu.Unlock()

	var msg any
	event := eventClear
	switch f.Kind {
	case pipeline.KindAudio:
		event = eventMedia
		msg = outboundMedia{
			Event:     eventMedia,
			StreamSID: streamSID,
			Media:     outboundAudio{Payload: base64.StdEncoding.EncodeToString(f.Audio)},
		}
	case pipeline.KindClear:
		msg = outboundClear{Event: eventClear, StreamSID: streamSID}
	default:
		return nil
	}
	return t.write(ctx, event, msg)
}

func (t *Transport) write(ctx context.Context, event string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return goerr.Wrap(err, "marshal outbound", goerr.V("event", event))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	if err = t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.Errors.WithLabelValues("transport", "write").Inc()
		return goerr.Wrap(err, "write outbound", goerr.V("event", event))
	}
	metrics.FramesOut.WithLabelValues(event).Inc()
	return nil
}

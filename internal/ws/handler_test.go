package ws_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-mizutani/gt"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/pipeline"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/ws"
)

type sessionLog struct {
	mu    sync.Mutex
	begun []trace.Session
	ended chan trace.Session
}

func newSessionLog() *sessionLog {
	return &sessionLog{ended: make(chan trace.Session, 4)}
}

func (l *sessionLog) BeginSession(s trace.Session) {
	l.mu.Lock()
	l.begun = append(l.begun, s)
	l.mu.Unlock()
}

func (l *sessionLog) EndSession(s trace.Session) { l.ended <- s }

// echoStages loops inbound audio straight back to the caller and leaves one
// span open so teardown has something to force-close.
func echoStages(ctx context.Context, tracer *trace.Tracer) ([]pipeline.Stage, error) {
	tracer.Handle(ctx, trace.ResponseStarted("resp_1", "echo"))
	return []pipeline.Stage{pipeline.NewFunc(func(ctx context.Context, f pipeline.Frame, forward func(context.Context, pipeline.Frame) error) error {
		if f.Kind != pipeline.KindAudio {
			return nil
		}
		return forward(ctx, f)
	})}, nil
}

func serve(t *testing.T, cfg ws.HandlerConfig) string {
	t.Helper()
	srv := httptest.NewServer(ws.NewHandler(cfg))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCallEchoAndTeardown(t *testing.T) {
	rec := trace.NewRecorder()
	sessions := newSessionLog()
	url := serve(t, ws.HandlerConfig{Mode: "test", Stages: echoStages, Sink: rec, Sessions: sessions})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err)
	defer conn.Close()

	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","protocol":"Call"}`)))
	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, mediaMsg([]byte{0x01})))
	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(startMsg)))
	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, mediaMsg([]byte{0xaa, 0xbb})))

	var out struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	gt.NoError(t, conn.ReadJSON(&out))
	gt.Equal(t, out.Event, "media")
	gt.Equal(t, out.StreamSID, "MZ1")
	gt.Equal(t, out.Media.Payload, base64.StdEncoding.EncodeToString([]byte{0xaa, 0xbb}))

	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1"}`)))

	select {
	case ended := <-sessions.ended:
		gt.Equal(t, ended.CallSID, "CA1")
		gt.Equal(t, ended.StreamSID, "MZ1")
		gt.Equal(t, ended.Mode, "test")
		gt.NotNil(t, ended.EndedAt)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}

	closed := rec.Closed()
	gt.A(t, closed).Length(1)
	gt.True(t, closed[0].Forced)
	gt.Equal(t, closed[0].Output, any(trace.NoOutput))
	gt.A(t, sessions.begun).Length(1)
}

func TestSetupFailureEndsCall(t *testing.T) {
	sessions := newSessionLog()
	url := serve(t, ws.HandlerConfig{
		Stages: func(context.Context, *trace.Tracer) ([]pipeline.Stage, error) {
			return nil, errors.New("realtime unavailable")
		},
		Sessions: sessions,
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err)
	defer conn.Close()
	gt.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(startMsg)))

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	gt.Error(t, err)

	select {
	case <-sessions.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestAdmissionControl(t *testing.T) {
	url := serve(t, ws.HandlerConfig{Stages: echoStages, MaxConcurrent: 1})

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	gt.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	gt.Error(t, err)
	gt.NotNil(t, resp)
	gt.Equal(t, resp.StatusCode, http.StatusServiceUnavailable)
}

package main

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/trace"
)

const (
	// defaultTraceSessionLimit is how many trace sessions are returned
	// when the caller omits the ?limit= query parameter.
	defaultTraceSessionLimit = 20

	mediaStreamPath = "/media-stream"
)

type deps struct {
	publicStreamURL string
	wsHandler       http.Handler
	traceStore      *trace.Store
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle(mediaStreamPath, d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /twiml", d.handleTwiML)
	registerTraceRoutes(mux, d.traceStore)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleTwiML answers an inbound Twilio call by connecting it to the media
// stream. The caller and callee numbers ride along as stream parameters.
func (d deps) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	streamURL := d.publicStreamURL
	if streamURL == "" {
		streamURL = "wss://" + r.Host + mediaStreamPath
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="`)
	xml.EscapeText(&b, []byte(streamURL))
	b.WriteString(`">`)
	for _, p := range []struct{ name, value string }{{"from", r.PostFormValue("From")}, {"to", r.PostFormValue("To")}} {
		if p.value == "" {
			continue
		}
		b.WriteString(`<Parameter name="` + p.name + `" value="`)
		xml.EscapeText(&b, []byte(p.value))
		b.WriteString(`"/>`)
	}
	b.WriteString(`</Stream></Connect></Response>`)

	slog.Info("twiml answered", "call_sid", r.PostFormValue("CallSid"), "stream_url", streamURL)
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(b.String()))
}

func registerTraceRoutes(mux *http.ServeMux, store *trace.Store) {
	mux.HandleFunc("GET /api/traces/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(r.Context(), limit, offset)
		if err != nil {
			slog.Error("list trace sessions", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, spans, err := store.GetSession(r.Context(), r.PathValue("id"))
		if errors.Is(err, trace.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("get trace session", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"session": sess, "spans": spans})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

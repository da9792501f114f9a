package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
)

func newTestMux(publicURL string) *http.ServeMux {
	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		publicStreamURL: publicURL,
		wsHandler:       http.NotFoundHandler(),
	})
	return mux
}

func postTwiML(mux *http.ServeMux, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "http://relay.example.com/twiml", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	gt.Equal(t, rec.Code, http.StatusOK)
	gt.Equal(t, rec.Body.String(), "ok")
}

func TestTwiMLUsesRequestHost(t *testing.T) {
	rec := postTwiML(newTestMux(""), url.Values{"From": {"+15550001111"}, "To": {"+15550002222"}, "CallSid": {"CA1"}})

	gt.Equal(t, rec.Code, http.StatusOK)
	gt.Equal(t, rec.Header().Get("Content-Type"), "text/xml")
	body := rec.Body.String()
	gt.S(t, body).Contains(`<Stream url="wss://relay.example.com/media-stream">`)
	gt.S(t, body).Contains(`<Parameter name="from" value="+15550001111"/>`)
	gt.S(t, body).Contains(`<Parameter name="to" value="+15550002222"/>`)
}

func TestTwiMLPublicURLAndEscaping(t *testing.T) {
	rec := postTwiML(newTestMux("wss://public.example.com/media-stream?a=1&b=2"), url.Values{"From": {`"x"<y>`}})

	body := rec.Body.String()
	gt.S(t, body).Contains(`url="wss://public.example.com/media-stream?a=1&amp;b=2"`)
	gt.S(t, body).Contains(`value="&#34;x&#34;&lt;y&gt;"`)
	gt.False(t, strings.Contains(body, `name="to"`))
}

func TestTraceRoutesWithoutStore(t *testing.T) {
	mux := newTestMux("")
	for _, path := range []string{"/api/traces/sessions", "/api/traces/sessions/abc"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		gt.Equal(t, rec.Code, http.StatusNotFound)
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=7&offset=-2&bad=z", nil)
	gt.Equal(t, queryInt(req, "limit", 20), 7)
	gt.Equal(t, queryInt(req, "offset", 0), 0)
	gt.Equal(t, queryInt(req, "bad", 3), 3)
	gt.Equal(t, queryInt(req, "missing", 5), 5)
}

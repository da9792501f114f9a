package pipeline

import (
	"net"
	"net/http"
	"time"
)

// NewPooledHTTPClient returns the client shared by every call's remote
// stages. Idle connections are kept per host so ASR, TTS, embedding and
// vector-store requests reuse them across calls.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = 16
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          poolSize * 4,
			MaxIdleConnsPerHost:   poolSize,
			MaxConnsPerHost:       poolSize * 2,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Package httpclient builds the pooled *http.Client shared by every
// provider/* REST adapter, so a busy bridge doesn't reopen a TCP connection
// per control-plane command.
package httpclient

import (
	"net/http"
	"time"
)

// New creates an http.Client with connection pooling tuned for bursty,
// short-lived provider REST calls (signature verification never calls out;
// only InitiateCall/HangupCall/PlayTts/control-URL commands do).
func New(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = 16
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

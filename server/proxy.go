package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

// ProxyConfig configures the path-prefixed HTTP/WS passthrough proxy
// (spec.md §4.7: "a raw proxy passthrough, preserving method/body/headers,
// overriding Host, 30s overall timeout, fixed 502 text body on any error").
type ProxyConfig struct {
	BasePath string // e.g. "/proxy"
	Upstream string // host:port
}

const proxyTimeout = 30 * time.Second

func newProxy(cfg ProxyConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isUpgrade(r) {
			proxyWebsocket(w, r, cfg)
			return
		}
		proxyHTTP(w, r, cfg)
	})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "Upgrade") ||
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func proxyHTTP(w http.ResponseWriter, r *http.Request, cfg ProxyConfig) {
	target := &url.URL{Scheme: "http", Host: cfg.Upstream}
	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "502 Bad Gateway", http.StatusBadGateway)
	}
	director := rp.Director
	rp.Director = func(req *http.Request) {
		director(req)
		req.Host = cfg.Upstream
		req.URL.Path = strings.TrimPrefix(req.URL.Path, strippedPrefix(r, cfg))
	}
	rp.Transport = &http.Transport{}
	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()
	rp.ServeHTTP(w, r.WithContext(ctx))
}

func strippedPrefix(r *http.Request, cfg ProxyConfig) string { return cfg.BasePath }

// proxyWebsocket dials the upstream over plain HTTP/1.1 and splices the two
// TCP connections once the upstream answers 101 Switching Protocols. A
// non-upgrade upstream response is written back to the client verbatim
// before the connection is torn down.
func proxyWebsocket(w http.ResponseWriter, r *http.Request, cfg ProxyConfig) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "502 Bad Gateway", http.StatusBadGateway)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "502 Bad Gateway", http.StatusBadGateway)
		return
	}
	defer clientConn.Close()

	upstreamConn, err := net.DialTimeout("tcp", cfg.Upstream, 10*time.Second)
	if err != nil {
		writeBadGateway(clientConn)
		return
	}
	defer upstreamConn.Close()

	outReq := r.Clone(r.Context())
	outReq.Host = cfg.Upstream
	outReq.URL.Path = strings.TrimPrefix(r.URL.Path, cfg.BasePath)
	if err := outReq.Write(upstreamConn); err != nil {
		writeBadGateway(clientConn)
		return
	}

	upstreamReader := bufio.NewReader(upstreamConn)
	resp, err := http.ReadResponse(upstreamReader, outReq)
	if err != nil {
		writeBadGateway(clientConn)
		return
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = resp.Write(clientConn)
		return
	}
	if err := resp.Write(clientConn); err != nil {
		return
	}

	splice(clientConn, upstreamConn)
}

func splice(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(a, b); done <- struct{}{} }()
	go func() { _, _ = io.Copy(b, a); done <- struct{}{} }()
	<-done
}

func writeBadGateway(conn net.Conn) {
	_, _ = conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 15\r\nContent-Type: text/plain\r\n\r\n502 Bad Gateway"))
}

// logProxyErr is a narrow seam for future structured logging of proxy
// failures; kept separate from ErrorHandler so tests can assert on it.
func logProxyErr(log *slog.Logger, err error) {
	if log != nil {
		log.Warn("proxy error", "error", err)
	}
}

// Package server implements the webhook/HTTP surface (spec.md §4.7): a
// chi-routed webhook endpoint, the media-stream WS upgrade, an HTTP+WS
// reverse proxy, a fixed-window hook-auth rate limiter, and the Prometheus
// /metrics endpoint. The router construction and error-to-status mapping
// follow anasdox-workline/internal/server.New's chi.Router shape, stripped
// of its huma typed layer — every body this server handles is either a
// provider-raw webhook or a raw proxy passthrough, not a schema we author.
package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/voicebridge/bridge"
	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/verr"
)

// Hooks wires the server into the rest of the runtime.
type Hooks struct {
	// CurrentProvider resolves the active carrier adapter for the
	// configured webhook path.
	CurrentProvider func() provider.Provider
	// Dispatch applies a normalized event sequentially into the call
	// manager.
	Dispatch func(ev provider.NormalizedEvent)
	Bridge   *bridge.Bridge
}

// Config configures the server's routes.
type Config struct {
	WebhookPath string // default /voice/webhook
	StreamPath  string // default /voice/stream
	MaxBodySize int64  // default 1 MiB

	Proxy     *ProxyConfig
	RateLimit RateLimitConfig
}

// New builds the chi.Router exposing every HTTP endpoint in spec.md §4.7.
func New(cfg Config, hooks Hooks, log *slog.Logger) http.Handler {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/voice/webhook"
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/voice/stream"
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if log == nil {
		log = slog.Default()
	}

	limiter := newHookLimiter(cfg.RateLimit)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Post(cfg.WebhookPath, webhookHandler(cfg, hooks, log))

	if hooks.Bridge != nil {
		r.Get(cfg.StreamPath, func(w http.ResponseWriter, req *http.Request) {
			hooks.Bridge.ServeHTTP(w, req)
		})
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/hooks/{key}", hookHandler(limiter, log))

	if cfg.Proxy != nil {
		p := newProxy(*cfg.Proxy)
		r.Handle(cfg.Proxy.BasePath+"/*", p)
	}

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func webhookHandler(cfg Config, hooks Hooks, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := hooks.CurrentProvider()
		if p == nil {
			http.Error(w, "no provider configured", http.StatusInternalServerError)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, cfg.MaxBodySize+1))
		if err != nil {
			writeErr(w, verr.Wrap(verr.BadPayload, "failed to read webhook body", err))
			return
		}
		if int64(len(body)) > cfg.MaxBodySize {
			writeErr(w, verr.New(verr.PayloadTooLarge, "webhook body too large"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		verdict, err := p.VerifyWebhook(ctx, r, body)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !verdict.OK {
			log.Warn("webhook signature verification failed", "provider", p.Name(), "reason", verdict.Reason)
			writeErr(w, verr.New(verr.UnauthorizedWebhook, verdict.Reason))
			return
		}

		res, err := p.ParseWebhookEvent(ctx, r, body)
		if err != nil {
			writeErr(w, err)
			return
		}

		for _, ev := range res.Events {
			if hooks.Dispatch != nil {
				hooks.Dispatch(ev)
			}
		}

		status := res.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if res.ContentType != "" {
			w.Header().Set("Content-Type", res.ContentType)
		}
		w.WriteHeader(status)
		if res.Body != "" {
			_, _ = w.Write([]byte(res.Body))
		}
	}
}

// writeErr maps a *verr.Error to an HTTP status. This is the ONLY place in
// the module that converts the error taxonomy to a status code (spec.md
// §7's "convert to status codes only at the edge"). 4xx bodies echo the
// error for caller diagnostics; 5xx bodies are fixed text (matching
// proxy.go's writeBadGateway/ErrorHandler) so the internal code/message/
// cause string is never leaked to callers.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch verr.CodeOf(err) {
	case verr.UnauthorizedWebhook:
		status = http.StatusUnauthorized
	case verr.RateLimited:
		status = http.StatusTooManyRequests
	case verr.PayloadTooLarge:
		status = http.StatusRequestEntityTooLarge
	case verr.RequestTimeout:
		status = http.StatusRequestTimeout
	case verr.BadPayload:
		status = http.StatusBadRequest
	case verr.NotFound:
		status = http.StatusNotFound
	case verr.InvalidTransition:
		status = http.StatusConflict
	case verr.ProviderErrorCode:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

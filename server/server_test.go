package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/provider/mock"
	"github.com/openclaw/voicebridge/verr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWebhookHandlerDispatchesParsedEvents(t *testing.T) {
	p := mock.New()
	p.Simulate("pcid-1", provider.EventCallRinging, provider.EventCallAnswered)

	var dispatched []provider.NormalizedEvent
	h := New(Config{WebhookPath: "/voice/webhook"}, Hooks{
		CurrentProvider: func() provider.Provider { return p },
		Dispatch: func(ev provider.NormalizedEvent) {
			dispatched = append(dispatched, ev)
		},
	}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/voice/webhook?providerCallId=pcid-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(dispatched) != 2 {
		t.Fatalf("expected 2 dispatched events, got %d", len(dispatched))
	}
	if dispatched[0].Type != provider.EventCallRinging || dispatched[1].Type != provider.EventCallAnswered {
		t.Fatalf("unexpected event order: %+v", dispatched)
	}
}

func TestWebhookHandlerNoProviderConfigured(t *testing.T) {
	h := New(Config{}, Hooks{
		CurrentProvider: func() provider.Provider { return nil },
	}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/voice/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestWebhookHandlerRejectsOversizedBody(t *testing.T) {
	p := mock.New()
	h := New(Config{MaxBodySize: 4}, Hooks{
		CurrentProvider: func() provider.Provider { return p },
	}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/voice/webhook", strings.NewReader("01234567"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHookHandlerRateLimitsAfterThreshold(t *testing.T) {
	h := New(Config{RateLimit: RateLimitConfig{MaxFailures: 1, Window: time.Minute}}, Hooks{
		CurrentProvider: func() provider.Provider { return mock.New() },
	}, testLogger())

	newReq := func() *http.Request {
		return httptest.NewRequest(http.MethodPost, "/hooks/somekey", nil)
	}

	// No Authorization header: first attempt fails auth and records a
	// failure, the second exceeds MaxFailures within the window.
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, newReq())
	if rec1.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on first unauthenticated attempt, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, newReq())
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once MaxFailures is exceeded, got %d", rec2.Code)
	}
}

func TestWriteErrMapsKnownCodesToStatusAndEchoesBodyFor4xx(t *testing.T) {
	cases := []struct {
		code verr.Code
		want int
	}{
		{verr.UnauthorizedWebhook, http.StatusUnauthorized},
		{verr.RateLimited, http.StatusTooManyRequests},
		{verr.PayloadTooLarge, http.StatusRequestEntityTooLarge},
		{verr.RequestTimeout, http.StatusRequestTimeout},
		{verr.BadPayload, http.StatusBadRequest},
		{verr.NotFound, http.StatusNotFound},
		{verr.InvalidTransition, http.StatusConflict},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeErr(rec, verr.New(c.code, "boom"))
		if rec.Code != c.want {
			t.Errorf("code %s: got status %d, want %d", c.code, rec.Code, c.want)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != string(c.code)+": boom" {
			t.Errorf("code %s: expected the error text in a 4xx body, got %q", c.code, got)
		}
	}
}

func TestWriteErrUsesFixedBodyForBadGateway(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, verr.New(verr.ProviderErrorCode, "upstream said boom"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "Bad Gateway" {
		t.Fatalf("expected the fixed 'Bad Gateway' body so the internal error text isn't leaked, got %q", got)
	}
}

func TestWriteErrDefaultsToInternalServerErrorWithFixedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, verr.New("SomethingUnmapped", "boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unmapped code, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "Internal Server Error" {
		t.Fatalf("expected the fixed 'Internal Server Error' body so the internal error text isn't leaked, got %q", got)
	}
}

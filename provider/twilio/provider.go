// Package twilio implements provider.Provider against the Twilio Voice
// REST API and Media Streams, generalized from agentplexus-omnivoice-twilio's
// single-purpose callsystem/transport/tts packages into one adapter behind
// the shared provider.Provider contract.
package twilio

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/verr"
)

// Verify interface compliance at compile time.
var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.PublicURLSetter  = (*Provider)(nil)
	_ provider.StreamRegistrar  = (*Provider)(nil)
)

// Config configures the Twilio adapter.
type Config struct {
	AccountSID             string
	AuthToken              string
	SkipSignatureVerify    bool
	StreamPath             string // e.g. "/voice/stream"
	StreamingEnabled       bool
}

// Provider implements provider.Provider for Twilio.
type Provider struct {
	cfg Config
	cl  *client

	mu         sync.RWMutex
	publicURL  string
	streamTok  map[string]string // callID -> token
}

// New constructs the Twilio adapter.
func New(cfg Config) (*Provider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, verr.New(verr.CredentialMissing, "twilio requires AccountSID and AuthToken")
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/voice/stream"
	}
	return &Provider{
		cfg:       cfg,
		cl:        newClient(cfg.AccountSID, cfg.AuthToken),
		streamTok: make(map[string]string),
	}, nil
}

func (p *Provider) Name() string { return "twilio" }

func (p *Provider) SetPublicURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publicURL = u
}

// RegisterCallStream mints a per-call stream token and returns the wss://
// URL the provider should be told to stream to.
func (p *Provider) RegisterCallStream(callID string) (string, string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", "", err
	}

	p.mu.Lock()
	p.streamTok[callID] = tok
	base := p.publicURL
	p.mu.Unlock()

	wsURL, err := toWSOrigin(base)
	if err != nil {
		return "", "", err
	}
	streamURL := fmt.Sprintf("%s%s?token=%s", wsURL, p.cfg.StreamPath, url.QueryEscape(tok))
	return streamURL, tok, nil
}

func (p *Provider) IsValidStreamToken(callID, token string) bool {
	p.mu.RLock()
	want, ok := p.streamTok[callID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return constantTimeEqual(want, token)
}

// ResolveCallIDByToken reverses RegisterCallStream's callID->token mapping,
// used by the bridge to identify an inbound media-stream WS upgrade that
// carries only the token in its query string.
func (p *Provider) ResolveCallIDByToken(token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for callID, tok := range p.streamTok {
		if constantTimeEqual(tok, token) {
			return callID, true
		}
	}
	return "", false
}

func (p *Provider) VerifyWebhook(ctx context.Context, r *http.Request, body []byte) (provider.VerifyResult, error) {
	if p.cfg.SkipSignatureVerify {
		return provider.VerifyResult{OK: true, Reason: "signature verification disabled"}, nil
	}

	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return provider.VerifyResult{OK: false, Reason: "missing X-Twilio-Signature"}, nil
	}

	fullURL := requestURL(r)
	if !verifySignature(p.cfg.AuthToken, fullURL, body, sig) {
		return provider.VerifyResult{OK: false, Reason: "signature mismatch"}, nil
	}
	return provider.VerifyResult{OK: true}, nil
}

func (p *Provider) ParseWebhookEvent(ctx context.Context, r *http.Request, body []byte) (provider.ParseResult, error) {
	if err := r.ParseForm(); err != nil {
		return provider.ParseResult{}, verr.Wrap(verr.BadPayload, "twilio webhook form parse failed", err)
	}

	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	from := r.FormValue("From")
	to := r.FormValue("To")
	digits := r.FormValue("Digits")

	if callSID == "" {
		return provider.ParseResult{}, verr.New(verr.BadPayload, "twilio webhook missing CallSid")
	}

	var events []provider.NormalizedEvent
	base := provider.NormalizedEvent{
		ProviderCallID: callSID,
		From:           from,
		To:             to,
	}

	switch {
	case digits != "":
		ev := base
		ev.Type = provider.EventCallDTMF
		ev.Digits = digits
		events = append(events, ev)
	case status != "":
		ev := base
		switch status {
		case "queued", "initiated":
			ev.Type = provider.EventCallInitiated
		case "ringing":
			ev.Type = provider.EventCallRinging
		case "in-progress", "answered":
			ev.Type = provider.EventCallAnswered
		case "completed", "busy", "no-answer", "failed", "canceled":
			ev.Type = provider.EventCallEnded
			ev.EndReason = provider.MapEndReason(status)
		default:
			ev.Type = provider.EventCallActive
		}
		events = append(events, ev)
	default:
		ev := base
		ev.Type = provider.EventCallInitiated
		events = append(events, ev)
	}

	// Twilio expects an empty (or TwiML) 200 response for status callbacks;
	// the initial call webhook gets the <Connect><Stream> TwiML.
	respBody := emptyTwiML()
	if status == "" && p.cfg.StreamingEnabled {
		streamURL, _, err := p.RegisterCallStream(callSID)
		if err == nil {
			if twiml, err := streamTwiML(streamURL, callSID); err == nil {
				respBody = twiml
			}
		}
	}

	return provider.ParseResult{
		Events:      events,
		StatusCode:  http.StatusOK,
		Body:        respBody,
		ContentType: "text/xml",
	}, nil
}

func (p *Provider) InitiateCall(ctx context.Context, in provider.InitiateCallInput) (provider.InitiateCallResult, error) {
	twiml, err := streamTwiML(in.StreamURL, in.CallID)
	if err != nil {
		return provider.InitiateCallResult{}, verr.Wrap(verr.ConfigInvalid, "failed to render twiml", err)
	}
	if in.StreamURL == "" {
		twiml = emptyTwiML()
	}

	call, err := p.cl.makeCall(ctx, makeCallParams{
		To:                  in.To,
		From:                in.From,
		Twiml:               twiml,
		StatusCallback:      in.StatusCallback,
		StatusCallbackEvent: []string{"initiated", "ringing", "answered", "completed"},
	})
	if err != nil {
		return provider.InitiateCallResult{}, err
	}
	return provider.InitiateCallResult{ProviderCallID: call.SID, Status: call.Status}, nil
}

func (p *Provider) HangupCall(ctx context.Context, in provider.HangupInput) error {
	return p.cl.updateCall(ctx, in.ProviderCallID, "", "completed")
}

func (p *Provider) PlayTts(ctx context.Context, in provider.PlayTtsInput) error {
	twiml, err := sayAndHangupTwiML(in.Text)
	if err != nil {
		return verr.Wrap(verr.ConfigInvalid, "failed to render say twiml", err)
	}
	return p.cl.updateCall(ctx, in.ProviderCallID, twiml, "")
}

func (p *Provider) StartListening(ctx context.Context, in provider.ListenInput) error {
	// Twilio's Gather-based recognition is not used; speech recognition
	// flows through the realtime session over the media stream instead.
	return nil
}

func (p *Provider) StopListening(ctx context.Context, in provider.ListenInput) error {
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16) // 128 bits
	if _, err := rand.Read(b); err != nil {
		return "", verr.Wrap(verr.ConfigInvalid, "failed to generate stream token", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func toWSOrigin(httpOrigin string) (string, error) {
	u, err := url.Parse(httpOrigin)
	if err != nil {
		return "", verr.Wrap(verr.ConfigInvalid, "invalid public URL", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.Scheme + "://" + u.Host, nil
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	host := r.Host
	return scheme + "://" + host + r.URL.RequestURI()
}

// constantTimeEqual compares two tokens without leaking their lengths or
// contents through timing, mirroring bridge.ConstantTimeTokenEqual (spec.md
// §4.4's stream-token security requirement applies to every provider that
// mints its own tokens, not just the ones that rely on the bridge for it).
func constantTimeEqual(want, got string) bool {
	if len(want) != len(got) {
		subtle.ConstantTimeCompare([]byte(want), []byte(want))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Package voximplant implements provider.Provider against the Voximplant
// platform: outbound calls via the Management API's StartScenarios,
// inbound webhooks authenticated by a shared secret, and in-call control
// via ephemeral control URLs extracted from webhook payloads.
package voximplant

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/verr"
)

var (
	_ provider.Provider        = (*Provider)(nil)
	_ provider.PublicURLSetter = (*Provider)(nil)
	_ provider.StreamRegistrar = (*Provider)(nil)
)

// Config configures the Voximplant adapter.
type Config struct {
	ManagementJWT  string
	AccountID      string
	KeyID          string
	PrivateKeyPEM  string
	RefreshSkewSec int

	ApplicationID  string
	SharedSecret   string // expected value of x-openclaw-voximplant-secret
	ControlTimeout time.Duration
	StreamPath     string
}

// Provider implements provider.Provider for Voximplant.
type Provider struct {
	cfg Config
	cl  *client

	mu             sync.RWMutex
	publicURL      string
	controlByCall  map[string]string // callId -> controlUrl
	controlByPCall map[string]string // providerCallId -> controlUrl
	streamTokens   map[string]string // callId -> token
}

// New constructs the Voximplant adapter.
func New(cfg Config) (*Provider, error) {
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = 10 * time.Second
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/voice/stream"
	}
	if cfg.SharedSecret == "" {
		return nil, verr.New(verr.CredentialMissing, "voximplant requires SharedSecret for inbound webhook auth")
	}

	src, err := newJWTSource(cfg.ManagementJWT, cfg.AccountID, cfg.KeyID, cfg.PrivateKeyPEM, cfg.RefreshSkewSec)
	if err != nil {
		return nil, err
	}

	return &Provider{
		cfg:            cfg,
		cl:             newClient(src, cfg.AccountID, cfg.ApplicationID, cfg.ControlTimeout),
		controlByCall:  make(map[string]string),
		controlByPCall: make(map[string]string),
		streamTokens:   make(map[string]string),
	}, nil
}

func (p *Provider) Name() string { return "voximplant" }

func (p *Provider) SetPublicURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publicURL = u
}

// RegisterCallStream returns the bridge's own public base URL; Voximplant's
// media session is driven by the control URL rather than a carrier-minted
// stream URL, so the token here authenticates the bridge's WS endpoint
// directly (query-string `token`, per spec.md §4.4's raw-binary transport).
func (p *Provider) RegisterCallStream(callID string) (string, string, error) {
	tok := randHex(16)
	p.mu.Lock()
	p.streamTokens[callID] = tok
	base := p.publicURL
	p.mu.Unlock()
	return base, tok, nil
}

func (p *Provider) IsValidStreamToken(callID, token string) bool {
	p.mu.RLock()
	want, ok := p.streamTokens[callID]
	p.mu.RUnlock()
	return ok && constantTimeEqual(want, token)
}

// ResolveCallIDByToken reverses RegisterCallStream's callID->token mapping.
func (p *Provider) ResolveCallIDByToken(token string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for callID, tok := range p.streamTokens {
		if constantTimeEqual(tok, token) {
			return callID, true
		}
	}
	return "", false
}

func (p *Provider) VerifyWebhook(ctx context.Context, r *http.Request, body []byte) (provider.VerifyResult, error) {
	got := r.Header.Get("x-openclaw-voximplant-secret")
	if got == "" {
		return provider.VerifyResult{OK: false, Reason: "missing shared secret header"}, nil
	}
	if !constantTimeEqual(p.cfg.SharedSecret, got) {
		return provider.VerifyResult{OK: false, Reason: "shared secret mismatch"}, nil
	}
	return provider.VerifyResult{OK: true}, nil
}

// voximplantWebhook is the subset of Voximplant's inbound call-event
// payload this adapter consumes. Voximplant exposes one-shot control URLs
// inline in the event payload (spec.md §4.5 "Control URL bookkeeping").
type voximplantWebhook struct {
	Event          string `json:"event"`
	CallID         string `json:"call_id"`
	CustomData     string `json:"custom_data"`
	From           string `json:"from"`
	To             string `json:"to"`
	ControlURL     string `json:"control_url"`
	HangupCause    string `json:"hangup_cause"`
	Digits         string `json:"digits"`
}

func (p *Provider) ParseWebhookEvent(ctx context.Context, r *http.Request, body []byte) (provider.ParseResult, error) {
	var wh voximplantWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return provider.ParseResult{}, verr.Wrap(verr.BadPayload, "voximplant webhook decode failed", err)
	}
	if wh.CallID == "" {
		return provider.ParseResult{}, verr.New(verr.BadPayload, "voximplant webhook missing call_id")
	}

	if wh.ControlURL != "" {
		p.mu.Lock()
		p.controlByPCall[wh.CallID] = wh.ControlURL
		p.mu.Unlock()
	}

	ev := provider.NormalizedEvent{ProviderCallID: wh.CallID, From: wh.From, To: wh.To}
	switch wh.Event {
	case "started", "call_alerting":
		ev.Type = provider.EventCallRinging
	case "answered", "call_connected":
		ev.Type = provider.EventCallAnswered
	case "dtmf":
		ev.Type = provider.EventCallDTMF
		ev.Digits = wh.Digits
	case "disconnected", "call_disconnected":
		ev.Type = provider.EventCallEnded
		ev.EndReason = provider.MapEndReason(wh.HangupCause)
	default:
		ev.Type = provider.EventCallInitiated
	}

	return provider.ParseResult{Events: []provider.NormalizedEvent{ev}, StatusCode: http.StatusOK}, nil
}

func (p *Provider) InitiateCall(ctx context.Context, in provider.InitiateCallInput) (provider.InitiateCallResult, error) {
	sessionURL, err := p.cl.startScenarios(ctx, in.To, in.From, in.CallID)
	if err != nil {
		return provider.InitiateCallResult{}, err
	}
	if sessionURL != "" {
		p.mu.Lock()
		p.controlByCall[in.CallID] = sessionURL
		p.mu.Unlock()
	}
	return provider.InitiateCallResult{ProviderCallID: in.CallID, Status: "initiated"}, nil
}

func (p *Provider) HangupCall(ctx context.Context, in provider.HangupInput) error {
	url, err := p.controlURL(in.CallID, in.ProviderCallID)
	if err != nil {
		return err
	}
	return p.cl.postControlURL(ctx, url, map[string]string{"command": "hangup"})
}

func (p *Provider) PlayTts(ctx context.Context, in provider.PlayTtsInput) error {
	url, err := p.controlURL(in.CallID, in.ProviderCallID)
	if err != nil {
		return err
	}
	return p.cl.postControlURL(ctx, url, map[string]string{"command": "say", "text": in.Text})
}

func (p *Provider) StartListening(ctx context.Context, in provider.ListenInput) error {
	url, err := p.controlURL(in.CallID, in.ProviderCallID)
	if err != nil {
		return err
	}
	return p.cl.postControlURL(ctx, url, map[string]string{"command": "start_listening"})
}

func (p *Provider) StopListening(ctx context.Context, in provider.ListenInput) error {
	url, err := p.controlURL(in.CallID, in.ProviderCallID)
	if err != nil {
		return err
	}
	return p.cl.postControlURL(ctx, url, map[string]string{"command": "stop_listening"})
}

// controlURL picks the first available control URL for the call, checking
// the internal callId index before the provider callId index.
func (p *Provider) controlURL(callID, providerCallID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.controlByCall[callID]; ok && u != "" {
		return u, nil
	}
	if u, ok := p.controlByPCall[providerCallID]; ok && u != "" {
		return u, nil
	}
	return "", verr.New(verr.NoControlUrl, "no control url registered for call")
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func constantTimeEqual(want, got string) bool {
	if len(want) != len(got) {
		subtle.ConstantTimeCompare([]byte(want), []byte(want))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

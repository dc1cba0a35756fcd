// Package telnyx implements provider.Provider against the Telnyx Programmable
// Voice REST API. Webhooks are verified as Ed25519 signatures over
// "{timestamp}|{body}" from the `Telnyx-Signature-Ed25519` /
// `Telnyx-Timestamp` header pair, using the configured public key; RSA
// signatures are not supported.
package telnyx

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/provider/internal/httpclient"
	"github.com/openclaw/voicebridge/verr"
)

var _ provider.Provider = (*Provider)(nil)

// Config configures the Telnyx adapter.
type Config struct {
	APIKey              string
	PublicKey           string // base64 Ed25519 public key from the Telnyx portal
	ConnectionID        string
	SkipSignatureVerify bool
}

// Provider implements provider.Provider for Telnyx.
type Provider struct {
	cfg       Config
	http      *http.Client
	publicKey ed25519.PublicKey

	mu        sync.RWMutex
	publicURL string
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, verr.New(verr.CredentialMissing, "telnyx requires APIKey")
	}
	var pub ed25519.PublicKey
	if cfg.PublicKey != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.PublicKey)
		if err != nil {
			return nil, verr.Wrap(verr.ConfigInvalid, "telnyx PublicKey is not valid base64", err)
		}
		pub = ed25519.PublicKey(raw)
	}
	return &Provider{
		cfg:       cfg,
		http:      httpclient.New(16, 15*time.Second),
		publicKey: pub,
	}, nil
}

func (p *Provider) Name() string { return "telnyx" }

func (p *Provider) SetPublicURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publicURL = u
}

func (p *Provider) VerifyWebhook(ctx context.Context, r *http.Request, body []byte) (provider.VerifyResult, error) {
	if p.cfg.SkipSignatureVerify {
		return provider.VerifyResult{OK: true, Reason: "signature verification disabled"}, nil
	}
	if p.publicKey == nil {
		return provider.VerifyResult{OK: false, Reason: "no public key configured"}, nil
	}

	sig := r.Header.Get("Telnyx-Signature-Ed25519")
	ts := r.Header.Get("Telnyx-Timestamp")
	if sig == "" || ts == "" {
		return provider.VerifyResult{OK: false, Reason: "missing signature headers"}, nil
	}

	sigBytes, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return provider.VerifyResult{OK: false, Reason: "malformed signature"}, nil
	}

	signedPayload := append([]byte(ts+"|"), body...)
	if !ed25519.Verify(p.publicKey, signedPayload, sigBytes) {
		return provider.VerifyResult{OK: false, Reason: "signature mismatch"}, nil
	}
	return provider.VerifyResult{OK: true}, nil
}

// telnyxWebhook is the minimal subset of Telnyx's nested webhook envelope
// this adapter consumes.
type telnyxWebhook struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			CallLegID     string `json:"call_leg_id"`
			From          string `json:"from"`
			To            string `json:"to"`
			HangupCause   string `json:"hangup_cause"`
			DTMFDigit     string `json:"digit"`
		} `json:"payload"`
	} `json:"data"`
}

func (p *Provider) ParseWebhookEvent(ctx context.Context, r *http.Request, body []byte) (provider.ParseResult, error) {
	var wh telnyxWebhook
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&wh); err != nil {
		return provider.ParseResult{}, verr.Wrap(verr.BadPayload, "telnyx webhook decode failed", err)
	}
	if wh.Data.Payload.CallControlID == "" {
		return provider.ParseResult{}, verr.New(verr.BadPayload, "telnyx webhook missing call_control_id")
	}

	ev := provider.NormalizedEvent{
		ProviderCallID: wh.Data.Payload.CallControlID,
		From:           wh.Data.Payload.From,
		To:             wh.Data.Payload.To,
	}

	switch wh.Data.EventType {
	case "call.initiated":
		ev.Type = provider.EventCallInitiated
	case "call.ringing":
		ev.Type = provider.EventCallRinging
	case "call.answered":
		ev.Type = provider.EventCallAnswered
	case "call.speak.started":
		ev.Type = provider.EventCallSpeaking
	case "call.dtmf.received":
		ev.Type = provider.EventCallDTMF
		ev.Digits = wh.Data.Payload.DTMFDigit
	case "call.hangup":
		ev.Type = provider.EventCallEnded
		ev.EndReason = provider.MapEndReason(wh.Data.Payload.HangupCause)
	default:
		ev.Type = provider.EventCallActive
	}

	return provider.ParseResult{Events: []provider.NormalizedEvent{ev}, StatusCode: http.StatusOK}, nil
}

func (p *Provider) InitiateCall(ctx context.Context, in provider.InitiateCallInput) (provider.InitiateCallResult, error) {
	body := map[string]any{
		"connection_id":      p.cfg.ConnectionID,
		"to":                 in.To,
		"from":               in.From,
		"client_state":       base64.StdEncoding.EncodeToString([]byte(in.CallID)),
		"webhook_url":        in.StatusCallback,
	}
	if in.StreamURL != "" {
		body["stream_url"] = in.StreamURL
		body["stream_track"] = "both_tracks"
	}

	var out struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
			CallSessionID string `json:"call_session_id"`
		} `json:"data"`
	}
	if err := p.post(ctx, "/v2/calls", body, &out); err != nil {
		return provider.InitiateCallResult{}, err
	}
	return provider.InitiateCallResult{ProviderCallID: out.Data.CallControlID, Status: "initiated"}, nil
}

func (p *Provider) HangupCall(ctx context.Context, in provider.HangupInput) error {
	return p.post(ctx, fmt.Sprintf("/v2/calls/%s/actions/hangup", url.PathEscape(in.ProviderCallID)), map[string]any{}, nil)
}

func (p *Provider) PlayTts(ctx context.Context, in provider.PlayTtsInput) error {
	return p.post(ctx, fmt.Sprintf("/v2/calls/%s/actions/speak", url.PathEscape(in.ProviderCallID)), map[string]any{
		"payload":  in.Text,
		"voice":    "female",
		"language": in.Language,
	}, nil)
}

func (p *Provider) StartListening(ctx context.Context, in provider.ListenInput) error {
	return p.post(ctx, fmt.Sprintf("/v2/calls/%s/actions/transcription_start", url.PathEscape(in.ProviderCallID)), map[string]any{}, nil)
}

func (p *Provider) StopListening(ctx context.Context, in provider.ListenInput) error {
	return p.post(ctx, fmt.Sprintf("/v2/calls/%s/actions/transcription_stop", url.PathEscape(in.ProviderCallID)), map[string]any{}, nil)
}

func (p *Provider) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return verr.Wrap(verr.BadPayload, "telnyx request encode failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.telnyx.com"+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "telnyx request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return verr.Provider(resp.StatusCode, buf.String())
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

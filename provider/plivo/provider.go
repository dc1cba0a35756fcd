// Package plivo implements provider.Provider against the Plivo Voice REST
// API. Webhooks are verified against the base64 HMAC-SHA256 in the
// `X-Plivo-Signature-V3` header, keyed by the auth token and computed over
// the full request URL followed by "." and the `X-Plivo-Signature-V3-Nonce`
// value. POST form parameters are not included in the signed string, and
// the legacy SHA1 scheme is not supported.
package plivo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
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

// Config configures the Plivo adapter.
type Config struct {
	AuthID              string
	AuthToken           string
	SkipSignatureVerify bool
	StreamPath          string
}

// Provider implements provider.Provider for Plivo.
type Provider struct {
	cfg  Config
	http *http.Client

	mu        sync.RWMutex
	publicURL string
}

func New(cfg Config) (*Provider, error) {
	if cfg.AuthID == "" || cfg.AuthToken == "" {
		return nil, verr.New(verr.CredentialMissing, "plivo requires AuthID and AuthToken")
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/voice/stream"
	}
	return &Provider{cfg: cfg, http: httpclient.New(16, 15*time.Second)}, nil
}

func (p *Provider) Name() string { return "plivo" }

func (p *Provider) SetPublicURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publicURL = u
}

func (p *Provider) VerifyWebhook(ctx context.Context, r *http.Request, body []byte) (provider.VerifyResult, error) {
	if p.cfg.SkipSignatureVerify {
		return provider.VerifyResult{OK: true, Reason: "signature verification disabled"}, nil
	}

	sig := r.Header.Get("X-Plivo-Signature-V3")
	nonce := r.Header.Get("X-Plivo-Signature-V3-Nonce")
	if sig == "" || nonce == "" {
		return provider.VerifyResult{OK: false, Reason: "missing signature headers"}, nil
	}

	fullURL := requestURL(r)
	mac := hmac.New(sha256.New, []byte(p.cfg.AuthToken))
	mac.Write([]byte(fullURL + "." + nonce))
	expected := mac.Sum(nil)

	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, expected) {
		return provider.VerifyResult{OK: false, Reason: "signature mismatch"}, nil
	}
	return provider.VerifyResult{OK: true}, nil
}

func (p *Provider) ParseWebhookEvent(ctx context.Context, r *http.Request, body []byte) (provider.ParseResult, error) {
	if err := r.ParseForm(); err != nil {
		return provider.ParseResult{}, verr.Wrap(verr.BadPayload, "plivo webhook form parse failed", err)
	}

	callUUID := r.FormValue("CallUUID")
	status := r.FormValue("CallStatus")
	from := r.FormValue("From")
	to := r.FormValue("To")
	digits := r.FormValue("Digits")

	if callUUID == "" {
		return provider.ParseResult{}, verr.New(verr.BadPayload, "plivo webhook missing CallUUID")
	}

	ev := provider.NormalizedEvent{ProviderCallID: callUUID, From: from, To: to}
	switch {
	case digits != "":
		ev.Type = provider.EventCallDTMF
		ev.Digits = digits
	case status == "ringing":
		ev.Type = provider.EventCallRinging
	case status == "in-progress":
		ev.Type = provider.EventCallAnswered
	case status == "completed" || status == "busy" || status == "no-answer" || status == "failed":
		ev.Type = provider.EventCallEnded
		ev.EndReason = provider.MapEndReason(status)
	default:
		ev.Type = provider.EventCallInitiated
	}

	respBody := `<Response></Response>`
	if status == "" || status == "ringing" {
		if streamXML, err := p.streamXML(callUUID); err == nil {
			respBody = streamXML
		}
	}

	return provider.ParseResult{Events: []provider.NormalizedEvent{ev}, StatusCode: http.StatusOK, Body: respBody, ContentType: "text/xml"}, nil
}

type plivoXMLResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Stream  *plivoStream `xml:"Stream,omitempty"`
}

type plivoStream struct {
	Bidirectional bool   `xml:"bidirectional,attr"`
	KeepCallAlive bool   `xml:"keepCallAlive,attr"`
	URL           string `xml:",chardata"`
}

func (p *Provider) streamXML(callID string) (string, error) {
	p.mu.RLock()
	base := p.publicURL
	p.mu.RUnlock()
	if base == "" {
		return "", verr.New(verr.ConfigInvalid, "public URL not resolved yet")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Scheme = "wss"
	if u.Scheme == "http" {
		u.Scheme = "ws"
	}
	streamURL := fmt.Sprintf("%s://%s%s?callId=%s", u.Scheme, u.Host, p.cfg.StreamPath, url.QueryEscape(callID))

	resp := plivoXMLResponse{Stream: &plivoStream{Bidirectional: true, KeepCallAlive: true, URL: streamURL}}
	body, err := xml.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(body), nil
}

func (p *Provider) InitiateCall(ctx context.Context, in provider.InitiateCallInput) (provider.InitiateCallResult, error) {
	body := map[string]any{
		"from":        in.From,
		"to":          in.To,
		"answer_url":  in.StatusCallback,
		"answer_method": "POST",
	}
	var out struct {
		RequestUUID string `json:"request_uuid"`
	}
	if err := p.post(ctx, fmt.Sprintf("/v1/Account/%s/Call/", p.cfg.AuthID), body, &out); err != nil {
		return provider.InitiateCallResult{}, err
	}
	return provider.InitiateCallResult{ProviderCallID: out.RequestUUID, Status: "queued"}, nil
}

func (p *Provider) HangupCall(ctx context.Context, in provider.HangupInput) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("https://api.plivo.com/v1/Account/%s/Call/%s/", p.cfg.AuthID, in.ProviderCallID), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AuthID, p.cfg.AuthToken)
	resp, err := p.http.Do(req)
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "plivo hangup failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return verr.Provider(resp.StatusCode, buf.String())
	}
	return nil
}

func (p *Provider) PlayTts(ctx context.Context, in provider.PlayTtsInput) error {
	body := map[string]any{"text": in.Text}
	return p.post(ctx, fmt.Sprintf("/v1/Account/%s/Call/%s/Speak/", p.cfg.AuthID, in.ProviderCallID), body, nil)
}

func (p *Provider) StartListening(ctx context.Context, in provider.ListenInput) error { return nil }
func (p *Provider) StopListening(ctx context.Context, in provider.ListenInput) error  { return nil }

func (p *Provider) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return verr.Wrap(verr.BadPayload, "plivo request encode failed", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.plivo.com"+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.cfg.AuthID, p.cfg.AuthToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "plivo request failed", err)
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

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

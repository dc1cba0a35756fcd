package voximplant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openclaw/voicebridge/provider/internal/httpclient"
	"github.com/openclaw/voicebridge/verr"
)

// client wraps Voximplant's Management API (StartScenarios) and the
// ephemeral per-call control URLs. On a 401 from the Management API, the
// JWT is regenerated and the request is retried exactly once (spec.md §4.5,
// Testable Property 6 / Scenario S3).
type client struct {
	jwt            *jwtSource
	http           *http.Client
	controlTimeout time.Duration
	baseURL        string
	accountID      string
	applicationID  string
}

func newClient(jwt *jwtSource, accountID, applicationID string, controlTimeout time.Duration) *client {
	return &client{
		jwt:            jwt,
		http:           httpclient.New(16, 15*time.Second),
		controlTimeout: controlTimeout,
		baseURL:        "https://api.voximplant.com/platform_api",
		accountID:      accountID,
		applicationID:  applicationID,
	}
}

// startScenarios places an outbound call via the Management API.
func (c *client) startScenarios(ctx context.Context, to, from, callID string) (string, error) {
	body := map[string]any{
		"account_id":     c.accountID,
		"application_id": c.applicationID,
		"script_custom_data": fmt.Sprintf(`{"to":%q,"from":%q,"callId":%q}`, to, from, callID),
	}

	var out struct {
		Result  int    `json:"result"`
		MediaSessionAccessURL string `json:"media_session_access_url"`
	}
	if err := c.doManagementJSON(ctx, "/StartScenarios", body, &out); err != nil {
		return "", err
	}
	return out.MediaSessionAccessURL, nil
}

// doManagementJSON POSTs to the Management API with a bearer token,
// retrying exactly once after regenerating the JWT if the server returns
// 401.
func (c *client) doManagementJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return verr.Wrap(verr.BadPayload, "voximplant request encode failed", err)
	}

	attempt := func() (*http.Response, error) {
		token, err := c.jwt.Token()
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return c.http.Do(req)
	}

	resp, err := attempt()
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "voximplant request failed", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		c.jwt.Invalidate()
		resp, err = attempt()
		if err != nil {
			return verr.Wrap(verr.ProviderErrorCode, "voximplant retry failed", err)
		}
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "voximplant response read failed", err)
	}

	if resp.StatusCode >= 400 {
		return verr.Provider(resp.StatusCode, buf.String())
	}
	if out != nil {
		return json.Unmarshal(buf.Bytes(), out)
	}
	return nil
}

// postControlURL issues a one-shot command to an in-call control URL
// (distinct from the Management API: no bearer token, time-bounded by
// controlTimeout).
func (c *client) postControlURL(ctx context.Context, controlURL string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return verr.Wrap(verr.BadPayload, "voximplant control request encode failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.controlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "voximplant control request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return verr.Provider(resp.StatusCode, buf.String())
	}
	return nil
}

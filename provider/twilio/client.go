package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openclaw/voicebridge/provider/internal/httpclient"
	"github.com/openclaw/voicebridge/verr"
)

// client is a minimal Twilio REST client covering the Calls resource: make,
// and update (used both to hang up and to push inline TwiML to a live
// call). Adapted from the SDK's classic basic-auth + form-encoded-POST
// shape rather than the full helper library, since this is all the bridge
// exercises.
type client struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

func newClient(accountSID, authToken string) *client {
	return &client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    "https://api.twilio.com/2010-04-01",
		http:       httpclient.New(16, 15*time.Second),
	}
}

type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

type makeCallParams struct {
	To                  string
	From                string
	Twiml               string
	StatusCallback      string
	StatusCallbackEvent []string
	Timeout             int
}

func (c *client) makeCall(ctx context.Context, p makeCallParams) (*callResource, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", p.To)
	data.Set("From", p.From)
	data.Set("Twiml", p.Twiml)
	if p.StatusCallback != "" {
		data.Set("StatusCallback", p.StatusCallback)
		for _, ev := range p.StatusCallbackEvent {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if p.Timeout > 0 {
		data.Set("Timeout", fmt.Sprintf("%d", p.Timeout))
	}

	var call callResource
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *client) updateCall(ctx context.Context, callSID string, twiml string, status string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	data := url.Values{}
	if twiml != "" {
		data.Set("Twiml", twiml)
	}
	if status != "" {
		data.Set("Status", status)
	}
	return c.post(ctx, endpoint, data, nil)
}

func (c *client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "twilio request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return verr.Wrap(verr.ProviderErrorCode, "twilio response read failed", err)
	}

	if resp.StatusCode >= 400 {
		return verr.Provider(resp.StatusCode, string(body))
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return verr.Wrap(verr.ProviderErrorCode, "twilio response decode failed", err)
		}
	}
	return nil
}

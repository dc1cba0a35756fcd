// Package mock implements provider.Provider deterministically, with no
// network calls. It exists to drive the CLI and tests end-to-end without a
// carrier account, and to give Testable Property scenarios (spec.md §8 S1,
// S2) a provider that never flakes.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openclaw/voicebridge/provider"
)

// Provider is the deterministic mock carrier.
type Provider struct {
	mu      sync.Mutex
	calls   map[string]string // callID -> providerCallID
	counter atomic.Uint64

	// Queue lets tests pre-load the events ParseWebhookEvent/Simulate
	// should emit next for a given providerCallID.
	queued map[string][]provider.NormalizedEvent
}

// New creates a mock provider.
func New() *Provider {
	return &Provider{
		calls:  make(map[string]string),
		queued: make(map[string][]provider.NormalizedEvent),
	}
}

func (p *Provider) Name() string { return "mock" }

func (p *Provider) VerifyWebhook(ctx context.Context, r *http.Request, body []byte) (provider.VerifyResult, error) {
	return provider.VerifyResult{OK: true}, nil
}

// ParseWebhookEvent drains whatever events were queued via Simulate for the
// providerCallID carried in the request's query string ("providerCallId").
func (p *Provider) ParseWebhookEvent(ctx context.Context, r *http.Request, body []byte) (provider.ParseResult, error) {
	id := r.URL.Query().Get("providerCallId")

	p.mu.Lock()
	events := p.queued[id]
	delete(p.queued, id)
	p.mu.Unlock()

	return provider.ParseResult{Events: events, StatusCode: http.StatusOK}, nil
}

func (p *Provider) InitiateCall(ctx context.Context, in provider.InitiateCallInput) (provider.InitiateCallResult, error) {
	providerCallID := fmt.Sprintf("mock-%s", uuid.NewString())

	p.mu.Lock()
	p.calls[in.CallID] = providerCallID
	p.mu.Unlock()

	return provider.InitiateCallResult{ProviderCallID: providerCallID, Status: "queued"}, nil
}

func (p *Provider) HangupCall(ctx context.Context, in provider.HangupInput) error {
	return nil
}

func (p *Provider) PlayTts(ctx context.Context, in provider.PlayTtsInput) error {
	return nil
}

func (p *Provider) StartListening(ctx context.Context, in provider.ListenInput) error {
	return nil
}

func (p *Provider) StopListening(ctx context.Context, in provider.ListenInput) error {
	return nil
}

// Simulate queues a sequence of normalized events to be returned by the
// next ParseWebhookEvent call carrying this providerCallID, and returns the
// events directly for callers (e.g. tests) that want to feed the call
// manager without round-tripping an HTTP request at all.
func (p *Provider) Simulate(providerCallID string, types ...provider.EventType) []provider.NormalizedEvent {
	now := time.Now()
	events := make([]provider.NormalizedEvent, 0, len(types))
	for _, t := range types {
		p.counter.Add(1)
		ev := provider.NormalizedEvent{
			ID:             fmt.Sprintf("evt-%d", p.counter.Load()),
			Type:           t,
			ProviderCallID: providerCallID,
			Timestamp:      now,
		}
		if t == provider.EventCallEnded {
			ev.EndReason = provider.ReasonHangupUser
		}
		events = append(events, ev)
	}

	p.mu.Lock()
	p.queued[providerCallID] = append(p.queued[providerCallID], events...)
	p.mu.Unlock()

	return events
}

// ProviderCallID returns the mock provider call id minted for callID, if any.
func (p *Provider) ProviderCallID(callID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.calls[callID]
	return id, ok
}

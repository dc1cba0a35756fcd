package callmanager

import (
	"sync"
	"time"

	"github.com/openclaw/voicebridge/provider"
)

// TranscriptEntry is one turn in a call's transcript.
type TranscriptEntry struct {
	Role string // "user" or "bot"
	Text string
	At   time.Time
}

// Call is the authoritative record for one call. Every field is guarded by
// mu except the ones fixed at creation (CallID, Direction).
type Call struct {
	CallID         string
	Direction      provider.Direction
	ProviderName   string
	From           string
	To             string
	StartedAt      time.Time

	mu             sync.RWMutex
	providerCallID string
	state          State
	endReason      provider.EndReason
	endedAt        time.Time
	transcript     []TranscriptEntry
	metadata       map[string]string
	streamSID      string
	controlURL     string
	streamToken    string
	finalized      bool
}

// State returns the current state.
func (c *Call) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ProviderCallID returns the carrier-assigned call identifier, if known.
func (c *Call) ProviderCallID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providerCallID
}

func (c *Call) setProviderCallID(id string) {
	c.mu.Lock()
	c.providerCallID = id
	c.mu.Unlock()
}

// EndReason returns the terminal end reason, empty if still non-terminal.
func (c *Call) EndReason() provider.EndReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endReason
}

// EndedAt returns the terminal timestamp, zero if still non-terminal.
func (c *Call) EndedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endedAt
}

// Transcript returns a copy of the accumulated transcript.
func (c *Call) Transcript() []TranscriptEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Call) appendTranscript(role, text string) {
	c.mu.Lock()
	c.transcript = append(c.transcript, TranscriptEntry{Role: role, Text: text, At: time.Now()})
	c.mu.Unlock()
}

// StreamSID returns the bridge stream identifier bound to this call, if any.
func (c *Call) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

func (c *Call) setStream(streamSID, controlURL, token string) {
	c.mu.Lock()
	c.streamSID = streamSID
	c.controlURL = controlURL
	c.streamToken = token
	c.mu.Unlock()
}

// Metadata returns a copy of the call's metadata map.
func (c *Call) Metadata() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

func (c *Call) setMetadata(k, v string) {
	c.mu.Lock()
	if c.metadata == nil {
		c.metadata = make(map[string]string)
	}
	c.metadata[k] = v
	c.mu.Unlock()
}

// snapshot is an immutable copy handed to getCall/history/the end-of-call
// hook so callers can't mutate live state through a returned pointer chase.
type Snapshot struct {
	CallID         string
	ProviderCallID string
	Direction      provider.Direction
	ProviderName   string
	From           string
	To             string
	State          State
	EndReason      provider.EndReason
	StartedAt      time.Time
	EndedAt        time.Time
	Transcript     []TranscriptEntry
	Metadata       map[string]string
}

// Snapshot takes an immutable copy of the call's current fields.
func (c *Call) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	transcript := make([]TranscriptEntry, len(c.transcript))
	copy(transcript, c.transcript)
	metadata := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return Snapshot{
		CallID:         c.CallID,
		ProviderCallID: c.providerCallID,
		Direction:      c.Direction,
		ProviderName:   c.ProviderName,
		From:           c.From,
		To:             c.To,
		State:          c.state,
		EndReason:      c.endReason,
		StartedAt:      c.StartedAt,
		EndedAt:        c.endedAt,
		Transcript:     transcript,
		Metadata:       metadata,
	}
}

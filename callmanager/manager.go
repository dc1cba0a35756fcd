// Package callmanager owns the per-call state machine, transcript, history
// log, and concurrency/timeout policy (spec.md §4.6). It is the single
// authoritative record store: every webhook event, bridge callback, and CLI
// command flows through a Manager method rather than touching a Call
// directly.
package callmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/verr"
)

// Config bounds the manager's admission control and timeouts.
type Config struct {
	MaxConcurrentCalls int
	RingTimeout        time.Duration
	SilenceTimeout     time.Duration
	MaxDuration        time.Duration
	TranscriptTimeout  time.Duration
	HistoryPath        string
	DefaultRegion      string // ISO country code used to parse numbers with no leading '+'
}

// Dependencies are the call manager's collaborators, injected so this
// package has no import-time dependency on provider/bridge/tts concretes.
type Dependencies struct {
	// Providers resolves a named carrier adapter.
	Providers map[string]provider.Provider
	// DefaultProvider is used when InitiateCallInput.Provider is empty.
	DefaultProvider string
	// SpeakStreaming delivers text to a live bridge stream's TTS queue;
	// nil when streaming conversation mode is unavailable.
	SpeakStreaming func(streamSID string, text string) error
}

// Manager is the call manager.
type Manager struct {
	cfg  Config
	deps Dependencies
	hist *history

	mu               sync.RWMutex
	calls            map[string]*Call // callId -> Call
	byProviderCallID map[string]string
	onEndedHook      func(Snapshot)
}

// New constructs a Manager. HistoryPath may be empty to disable logging.
func New(cfg Config, deps Dependencies) (*Manager, error) {
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 50
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "US"
	}
	h, err := newHistory(cfg.HistoryPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:              cfg,
		deps:             deps,
		hist:             h,
		calls:            make(map[string]*Call),
		byProviderCallID: make(map[string]string),
	}, nil
}

// Close releases the history log file handle.
func (m *Manager) Close() error {
	return m.hist.close()
}

// SetOnCallEndedHook registers fn to be invoked exactly once per call, with
// the final immutable record, when the call reaches a terminal state.
func (m *Manager) SetOnCallEndedHook(fn func(Snapshot)) {
	m.mu.Lock()
	m.onEndedHook = fn
	m.mu.Unlock()
}

// InitiateCallInput is the initiateCall request.
type InitiateCallInput struct {
	To         string
	From       string
	Provider   string
	StatusURL  string
	StreamURL  string
	SessionKey string
}

// InitiateCallResult mirrors spec.md §4.6's {success, callId?, error?}.
type InitiateCallResult struct {
	Success bool
	CallID  string
	Error   string
}

// InitiateCall validates the destination number, enforces the concurrency
// cap, places the outbound call via the selected provider, and creates the
// call record in StateInitiating.
func (m *Manager) InitiateCall(ctx context.Context, in InitiateCallInput) InitiateCallResult {
	to, err := m.normalizeNumber(in.To)
	if err != nil {
		return InitiateCallResult{Error: err.Error()}
	}

	if m.activeCount() >= m.cfg.MaxConcurrentCalls {
		callsRejected.WithLabelValues("too_many_calls").Inc()
		return InitiateCallResult{Error: verr.New(verr.TooManyCalls, "max concurrent calls reached").Error()}
	}

	providerName := in.Provider
	if providerName == "" {
		providerName = m.deps.DefaultProvider
	}
	p, ok := m.deps.Providers[providerName]
	if !ok {
		return InitiateCallResult{Error: verr.New(verr.ConfigInvalid, "unknown provider: "+providerName).Error()}
	}

	callID := uuid.NewString()
	call := &Call{
		CallID:       callID,
		Direction:    provider.Outbound,
		ProviderName: providerName,
		From:         in.From,
		To:           to,
		StartedAt:    time.Now(),
		state:        StateInitiating,
	}
	if in.SessionKey != "" {
		call.setMetadata("sessionKey", in.SessionKey)
	}

	m.mu.Lock()
	m.calls[callID] = call
	m.mu.Unlock()
	callsActive.Inc()
	callsInitiated.Inc()

	res, err := p.InitiateCall(ctx, provider.InitiateCallInput{
		From:           in.From,
		To:             to,
		CallID:         callID,
		StatusCallback: in.StatusURL,
		StreamURL:      in.StreamURL,
	})
	if err != nil {
		m.forceTerminal(call, StateFailed, provider.ReasonFailed)
		return InitiateCallResult{Error: err.Error()}
	}

	call.setProviderCallID(res.ProviderCallID)
	m.mu.Lock()
	m.byProviderCallID[res.ProviderCallID] = callID
	m.mu.Unlock()

	m.transition(call, StateRinging)
	m.scheduleTimeout(call, m.cfg.RingTimeout, StateRinging, StateNoAnswer, provider.ReasonNoAnswer)

	return InitiateCallResult{Success: true, CallID: callID}
}

func (m *Manager) normalizeNumber(raw string) (string, error) {
	if raw == "" {
		return "", verr.New(verr.BadPayload, "destination number is required")
	}
	parsed, err := phonenumbers.Parse(raw, m.cfg.DefaultRegion)
	if err != nil {
		return "", verr.Wrap(verr.BadPayload, "invalid phone number", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", verr.New(verr.BadPayload, "invalid phone number: "+raw)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

func (m *Manager) activeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if !c.State().IsTerminal() {
			n++
		}
	}
	return n
}

// ContinueCallResult mirrors spec.md §4.6's {success, transcript?, error?}.
type ContinueCallResult struct {
	Success    bool
	Transcript []TranscriptEntry
	Error      string
}

// ContinueCall advances a call with an externally-supplied message. Per the
// resolved Open Question, this always synthesizes a bot turn and appends a
// `bot` transcript entry (both notify and conversation mode); it never
// forges a `user` entry.
func (m *Manager) ContinueCall(ctx context.Context, callID, message string) ContinueCallResult {
	call, ok := m.Get(callID)
	if !ok {
		return ContinueCallResult{Error: verr.New(verr.NotFound, "call not found").Error()}
	}
	if err := m.speak(ctx, call, message); err != nil {
		return ContinueCallResult{Error: err.Error()}
	}
	return ContinueCallResult{Success: true, Transcript: call.Transcript()}
}

// Speak renders text onto the call: through the bridge's TTS queue in
// streaming conversation mode, or the provider's native playTts otherwise
// (spec.md §4.6 "Continue / speak").
func (m *Manager) Speak(ctx context.Context, callID, text string) error {
	call, ok := m.Get(callID)
	if !ok {
		return verr.New(verr.NotFound, "call not found")
	}
	return m.speak(ctx, call, text)
}

func (m *Manager) speak(ctx context.Context, call *Call, text string) error {
	call.appendTranscript("bot", text)

	streamSID := call.StreamSID()
	if streamSID != "" && m.deps.SpeakStreaming != nil {
		if err := m.deps.SpeakStreaming(streamSID, text); err != nil {
			return verr.Wrap(verr.TtsUnavailable, "streaming speak failed", err)
		}
		return nil
	}

	p, ok := m.deps.Providers[call.ProviderName]
	if !ok {
		return verr.New(verr.ConfigInvalid, "unknown provider: "+call.ProviderName)
	}
	return p.PlayTts(ctx, provider.PlayTtsInput{
		CallID:         call.CallID,
		ProviderCallID: call.ProviderCallID(),
		Text:           text,
	})
}

// EndCall drives the call into StateEnding then the requested hangup
// terminal state, issuing the provider hangup.
func (m *Manager) EndCall(ctx context.Context, callID string, botInitiated bool) error {
	reason := provider.ReasonHangupUser
	target := StateHangupUser
	if botInitiated {
		reason = provider.ReasonHangupBot
		target = StateHangupBot
	}
	return m.endCall(ctx, callID, target, reason)
}

// FailCall drives the call straight to StateFailed with the given reason,
// still issuing the provider hangup. Used when a component outside the
// normal hangup path (e.g. the realtime session) determines the call can no
// longer continue — spec.md §5 Scenario S5's realtime-disconnect-in-active
// case, which is neither a bot nor a user hangup.
func (m *Manager) FailCall(ctx context.Context, callID string, reason provider.EndReason) error {
	return m.endCall(ctx, callID, StateFailed, reason)
}

func (m *Manager) endCall(ctx context.Context, callID string, target State, reason provider.EndReason) error {
	call, ok := m.Get(callID)
	if !ok {
		return verr.New(verr.NotFound, "call not found")
	}

	p, ok := m.deps.Providers[call.ProviderName]
	if ok {
		_ = p.HangupCall(ctx, provider.HangupInput{CallID: call.CallID, ProviderCallID: call.ProviderCallID()})
	}

	if call.State() != StateEnding {
		m.transition(call, StateEnding)
	}
	return m.finalize(call, target, reason)
}

// Get returns the live Call record, if any.
func (m *Manager) Get(callID string) (*Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	return c, ok
}

// GetCall returns an immutable snapshot of the call.
func (m *Manager) GetCall(callID string) (Snapshot, bool) {
	c, ok := m.Get(callID)
	if !ok {
		return Snapshot{}, false
	}
	return c.Snapshot(), true
}

// GetCallByProviderCallID resolves a call by its carrier-assigned ID.
func (m *Manager) GetCallByProviderCallID(providerCallID string) (Snapshot, bool) {
	m.mu.RLock()
	callID, ok := m.byProviderCallID[providerCallID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return m.GetCall(callID)
}


// GetCallHistory returns up to limit records (live + logged), sorted by
// endedAt|startedAt descending. When the history log is enabled, terminal
// calls are taken from the log only, so a reset marker hides them.
func (m *Manager) GetCallHistory(limit int) ([]Snapshot, error) {
	logged, err := loadHistory(m.cfg.HistoryPath)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	live := make([]Snapshot, 0, len(m.calls))
	for _, c := range m.calls {
		s := c.Snapshot()
		if m.hist.file != nil && s.State.IsTerminal() {
			continue
		}
		live = append(live, s)
	}
	m.mu.RUnlock()

	seen := make(map[string]bool, len(live))
	out := make([]Snapshot, 0, len(live)+len(logged))
	for _, s := range live {
		seen[s.CallID] = true
		out = append(out, s)
	}
	for _, s := range logged {
		if !seen[s.CallID] {
			out = append(out, s)
		}
	}

	sortSnapshotsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortSnapshotsDesc(s []Snapshot) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && historySortKey(s[j]).After(historySortKey(s[j-1])); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// BindStream associates a live bridge stream with a call (called from the
// bridge's OnStreamAccepted hook).
func (m *Manager) BindStream(callID, streamSID, controlURL, token string) {
	call, ok := m.Get(callID)
	if !ok {
		return
	}
	call.setStream(streamSID, controlURL, token)
	if call.State() == StateAnswered {
		m.transition(call, StateActive)
	}
	m.scheduleTimeout(call, m.cfg.MaxDuration, StateActive, StateTimeout, provider.ReasonTimeout)
}

// OnTranscript appends a transcript entry. A final user turn resets the
// silence timeout (the gap until the next turn starts); a partial user turn
// arms the transcript-turn wait timeout (spec.md §4.6's transcriptTimeoutMs:
// the turn started but hasn't finalized yet).
func (m *Manager) OnTranscript(callID, role, text string, isFinal bool) {
	call, ok := m.Get(callID)
	if !ok {
		return
	}
	call.appendTranscript(role, text)
	if role != "user" {
		return
	}
	if isFinal {
		m.scheduleTimeout(call, m.cfg.SilenceTimeout, call.State(), StateTimeout, provider.ReasonTimeout)
		return
	}
	m.scheduleTimeout(call, m.cfg.TranscriptTimeout, call.State(), StateTimeout, provider.ReasonTranscriptTimeout)
}

// OnSpeaking/OnListening toggle the active sub-phase (spec.md §4.6:
// "speaking and listening may toggle freely while in the active sub-phase").
func (m *Manager) OnSpeaking(callID string) {
	if call, ok := m.Get(callID); ok {
		m.transition(call, StateSpeaking)
	}
}

func (m *Manager) OnListening(callID string) {
	if call, ok := m.Get(callID); ok {
		m.transition(call, StateListening)
	}
}

// OnProviderEvent dispatches a normalized provider event into the state
// machine.
func (m *Manager) OnProviderEvent(ev provider.NormalizedEvent) {
	callID := ev.CallID
	if callID == "" {
		if snap, ok := m.GetCallByProviderCallID(ev.ProviderCallID); ok {
			callID = snap.CallID
		}
	}

	call, ok := m.Get(callID)
	if !ok {
		if ev.Type != provider.EventCallInitiated || ev.Direction != provider.Inbound {
			return
		}
		var err error
		call, err = m.createInbound(ev)
		if err != nil {
			return
		}
	}

	switch ev.Type {
	case provider.EventCallInitiated:
		// handled above for the not-yet-known case; for a call the bridge
		// already knows about, initiated is a no-op duplicate.
	case provider.EventCallRinging:
		m.transition(call, StateRinging)
	case provider.EventCallAnswered:
		m.transition(call, StateAnswered)
	case provider.EventCallActive:
		m.transition(call, StateActive)
	case provider.EventCallSpeaking:
		m.OnSpeaking(call.CallID)
	case provider.EventCallSpeech:
		m.OnTranscript(call.CallID, "user", ev.Transcript, ev.IsFinal)
	case provider.EventCallDTMF:
		m.log(call, "dtmf received via webhook", "digits", ev.Digits)
	case provider.EventCallEnded:
		m.onEndedByProvider(call, ev.EndReason)
	case provider.EventCallError:
		m.log(call, "provider reported call error", "error", ev.Err, "retryable", ev.Retryable)
	}
}

// createInbound records a carrier-originated call the first time its
// provider webhook reports it, per spec.md §4.6 "Inbound: carrier HTTP
// webhook -> Server -> Provider Adapter -> Call Manager creates record."
func (m *Manager) createInbound(ev provider.NormalizedEvent) (*Call, error) {
	if m.activeCount() >= m.cfg.MaxConcurrentCalls {
		callsRejected.WithLabelValues("too_many_calls").Inc()
		return nil, verr.New(verr.TooManyCalls, "max concurrent calls reached")
	}

	callID := ev.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	call := &Call{
		CallID:       callID,
		Direction:    provider.Inbound,
		ProviderName: m.deps.DefaultProvider,
		From:         ev.From,
		To:           ev.To,
		StartedAt:    time.Now(),
		state:        StateInitiating,
	}
	call.setProviderCallID(ev.ProviderCallID)

	m.mu.Lock()
	m.calls[callID] = call
	if ev.ProviderCallID != "" {
		m.byProviderCallID[ev.ProviderCallID] = callID
	}
	m.mu.Unlock()
	callsActive.Inc()
	callsInitiated.Inc()

	m.transition(call, StateRinging)
	m.scheduleTimeout(call, m.cfg.RingTimeout, StateRinging, StateNoAnswer, provider.ReasonNoAnswer)
	return call, nil
}

// log is a narrow slog.Debug wrapper so event handling has somewhere to put
// diagnostics without pulling in a full log field per Call.
func (m *Manager) log(call *Call, msg string, args ...any) {
	slog.Debug(msg, append([]any{"callId", call.CallID}, args...)...)
}

func (m *Manager) onEndedByProvider(call *Call, reason provider.EndReason) {
	target := reasonToState(reason)
	if call.State() != StateEnding && !call.State().IsTerminal() {
		_ = m.transition(call, StateEnding)
	}
	_ = m.finalize(call, target, reason)
}

func reasonToState(reason provider.EndReason) State {
	switch reason {
	case provider.ReasonBusy:
		return StateBusy
	case provider.ReasonNoAnswer:
		return StateNoAnswer
	case provider.ReasonVoicemail:
		return StateVoicemail
	case provider.ReasonTimeout:
		return StateTimeout
	case provider.ReasonHangupBot:
		return StateHangupBot
	case provider.ReasonHangupUser:
		return StateHangupUser
	case provider.ReasonFailed, provider.ReasonRealtimeDisconnected:
		return StateFailed
	case provider.ReasonTranscriptTimeout:
		return StateTimeout
	default:
		return StateCompleted
	}
}

// transition performs a validated, metered, non-terminal transition.
func (m *Manager) transition(call *Call, to State) error {
	call.mu.Lock()
	from := call.state
	if err := validateTransition(from, to); err != nil {
		call.mu.Unlock()
		return err
	}
	call.state = to
	call.mu.Unlock()

	stateTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// finalize performs the idempotent terminal dispatch: dedup is by
// (callId, terminalState) so a redelivered webhook for the same reason is a
// silent no-op, while a conflicting terminal request is rejected.
func (m *Manager) finalize(call *Call, to State, reason provider.EndReason) error {
	call.mu.Lock()
	if call.state.IsTerminal() {
		already := call.state == to
		call.mu.Unlock()
		if already {
			return nil
		}
		return verr.New(verr.InvalidTransition, "call already finalized with a different terminal state")
	}
	from := call.state
	if err := validateTransition(from, to); err != nil {
		call.mu.Unlock()
		return err
	}
	call.state = to
	call.endReason = reason
	call.endedAt = time.Now()
	call.finalized = true
	started := call.StartedAt
	call.mu.Unlock()

	stateTransitions.WithLabelValues(string(from), string(to)).Inc()
	callsEnded.WithLabelValues(string(reason)).Inc()
	callsActive.Dec()
	callDuration.Observe(time.Since(started).Seconds())

	snap := call.Snapshot()
	m.hist.append(snap)

	m.mu.RLock()
	hook := m.onEndedHook
	m.mu.RUnlock()
	if hook != nil {
		hook(snap)
	}
	return nil
}

// forceTerminal is used for failures that occur before any provider event
// can arrive (e.g. InitiateCall itself erroring).
func (m *Manager) forceTerminal(call *Call, to State, reason provider.EndReason) {
	_ = m.finalize(call, to, reason)
}

// scheduleTimeout fires a terminal (or state) transition if the call is
// still in expectState after d; a zero d disables the timeout.
func (m *Manager) scheduleTimeout(call *Call, d time.Duration, expectState, target State, reason provider.EndReason) {
	if d <= 0 {
		return
	}
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		<-t.C
		if call.State() != expectState {
			return
		}
		if reason == provider.ReasonTranscriptTimeout {
			m.log(call, "transcript turn wait timed out", "error", verr.New(verr.TranscriptTimeout, "no final transcript within transcriptTimeoutMs").Error())
		}
		if target.IsTerminal() {
			if call.State() != StateEnding && !call.State().IsTerminal() {
				_ = m.transition(call, StateEnding)
			}
			_ = m.finalize(call, target, reason)
			return
		}
		_ = m.transition(call, target)
	}()
}

// ResetHistory appends a reset marker so GetCallHistory's JSONL loader
// ignores every record before it (spec.md §9).
func (m *Manager) ResetHistory() error {
	return m.hist.reset()
}

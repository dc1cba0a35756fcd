package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openclaw/voicebridge/bridge"
	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/realtime"
)

// streamState tracks the one realtime.Session owned by a bridge.Stream, per
// spec.md §5's "realtime sessions and media WSes are owned exclusively by
// the Bridge; closing either also closes the other and transitions the
// call." Owned by a Runtime instance, never package-level state.
type streamState struct {
	session   *realtime.Session
	callID    string
	streamSID string

	dropped atomic.Uint64
}

type streamRegistry struct {
	mu sync.Mutex
	m  map[*bridge.Stream]*streamState
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{m: make(map[*bridge.Stream]*streamState)}
}

func (r *streamRegistry) put(s *bridge.Stream, st *streamState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s] = st
}

func (r *streamRegistry) popFor(s *bridge.Stream) (*streamState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.m[s]
	delete(r.m, s)
	return st, ok
}

// resolveCallIDByToken identifies the call a media-stream WS upgrade belongs
// to from the token in its query string, delegating to the provider's own
// token bookkeeping (providers mint and own their stream tokens via
// StreamRegistrar.RegisterCallStream).
func (rt *Runtime) resolveCallIDByToken(token string) (string, bool) {
	registrar, ok := rt.prov.(provider.StreamRegistrar)
	if !ok {
		return "", false
	}
	callID, ok := registrar.ResolveCallIDByToken(token)
	if !ok {
		return "", false
	}
	if !registrar.IsValidStreamToken(callID, token) {
		return "", false
	}
	return callID, true
}

func (rt *Runtime) shouldAcceptStream(ctx context.Context, req bridge.AcceptRequest) bool {
	if req.CallID == "" {
		return false
	}
	_, ok := rt.cm.GetCall(req.CallID)
	return ok
}

// onStreamAccepted creates the per-call realtime.Session (unless the call
// is configured for notify-only/no-streaming mode) and binds audio in both
// directions, implementing the Bridge↔Realtime↔CallManager cross-wiring
// spec.md §5 requires.
func (rt *Runtime) onStreamAccepted(s *bridge.Stream) {
	callID := s.CallID()
	rt.cm.BindStream(callID, s.StreamSID(), "", "")

	if rt.cfg.Streaming.Mode != "realtime-conversation" {
		return
	}

	mode := realtime.ModeConversation
	if snap, ok := rt.cm.GetCall(callID); ok && snap.Metadata["mode"] == "notify" {
		mode = realtime.ModeTranscription
	}

	st := &streamState{callID: callID, streamSID: s.StreamSID()}
	session := realtime.New(realtime.Config{
		Endpoint:     rt.cfg.Realtime.Endpoint,
		APIKey:       rt.cfg.OpenAIAPIKey,
		Mode:         mode,
		Instructions: rt.cfg.Realtime.Instructions,
		Voice:        rt.cfg.Realtime.Voice,
		ForceOpening: rt.cfg.Realtime.ForceOpening,
		Logger:       rt.log,
	}, realtime.Callbacks{
		OnUserFinal: func(text string) {
			rt.cm.OnTranscript(callID, "user", text, true)
		},
		OnUserPartial: func(text string) {
			rt.cm.OnTranscript(callID, "user", text, false)
		},
		OnSpeechStart: func() {
			rt.cm.OnListening(callID)
		},
		OnAssistantFinal: func(text string) {
			rt.cm.OnTranscript(callID, "bot", text, true)
		},
		OnAssistantAudio: func(muLaw []byte) {
			rt.br.Enqueue(s.StreamSID(), muLaw)
		},
		OnDisconnected: func(err error) {
			if mode == realtime.ModeTranscription {
				// The session reconnects on its own; the call is not ended here.
				return
			}
			if mode == realtime.ModeConversation && err != nil {
				rt.onRealtimeFailed(s)
				return
			}
			rt.onStreamClosed(s)
		},
	})
	st.session = session
	rt.streams.put(s, st)

	s.OnAudio = func(muLaw []byte) {
		session.SendAudio(muLaw)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Connect(connectCtx); err != nil {
		rt.log.Error("realtime session connect failed", "callId", callID, "error", err)
		rt.onStreamClosed(s)
	}
}

// onStreamClosed tears down the owned realtime.Session (closing either
// closes the other, per spec.md §5) and transitions the call to ending.
func (rt *Runtime) onStreamClosed(s *bridge.Stream) {
	if st, ok := rt.streams.popFor(s); ok && st.session != nil {
		st.session.Close()
	}

	if s.CallID() != "" {
		_ = rt.cm.EndCall(context.Background(), s.CallID(), true)
	}
}

// onRealtimeFailed handles a conversation-mode realtime WS drop while the
// call is active (spec.md §5 Scenario S5): conversation mode never
// reconnects, and this is neither a bot- nor user-initiated hangup, so the
// call is failed with a distinct reason instead of going through
// onStreamClosed's hangup-bot path.
func (rt *Runtime) onRealtimeFailed(s *bridge.Stream) {
	if st, ok := rt.streams.popFor(s); ok && st.session != nil {
		st.session.Close()
	}

	if s.CallID() != "" {
		_ = rt.cm.FailCall(context.Background(), s.CallID(), provider.ReasonRealtimeDisconnected)
	}
}

func (rt *Runtime) onDTMF(callID, digit string) {
	rt.log.Debug("dtmf received", "callId", callID, "digit", digit)
}

// speakStreaming renders text through the configured telephony-TTS adapter
// and enqueues the resulting mu-law clip on the bound stream, used by
// callmanager.Manager.speak() for tts-relay mode calls.
func (rt *Runtime) speakStreaming(streamSID, text string) error {
	if rt.ttsA == nil {
		return nil
	}
	muLaw, err := rt.ttsA.SynthesizeForTelephony(context.Background(), text)
	if err != nil {
		return err
	}
	<-rt.br.Enqueue(streamSID, muLaw)
	return nil
}

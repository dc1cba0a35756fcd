// Package realtime manages one WebSocket session per call to the cloud
// realtime speech model (spec.md §4.3). It owns the read/write loop over a
// single *websocket.Conn directly — the same shape as
// agentplexus-omnivoice-twilio/transport.Connection's readLoop/writeLoop —
// rather than wrapping a vendor SDK, because the timing invariants here
// (bounded session-ack wait, exactly-once assistant-final emission,
// mode-gated reconnection) require owning the loop.
package realtime

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/voicebridge/verr"
)

// Mode selects what the session produces.
type Mode string

const (
	// ModeTranscription: carrier audio -> user transcripts + VAD only.
	ModeTranscription Mode = "transcription"
	// ModeConversation: carrier audio -> user transcripts AND assistant
	// audio + assistant transcripts.
	ModeConversation Mode = "conversation"
)

// sessionAckTimeout bounds the wait for the server's session-configuration
// acknowledgement before the first assistant response may be triggered.
const sessionAckTimeout = 5 * time.Second

// maxTranscriptionReconnects is the cap on transcription-mode reconnect
// attempts (conversation mode never reconnects — spec.md §4.3).
const maxTranscriptionReconnects = 5

// Callbacks are the consumer's hooks into session events. Any nil callback
// is simply not invoked; this replaces the "replace-the-callback" idiom the
// design notes flag by keeping each callback fixed for the session's
// lifetime instead of being swapped out by waitFor-style helpers.
type Callbacks struct {
	OnUserPartial     func(text string)
	OnUserFinal       func(text string)
	OnSpeechStart     func()
	OnAssistantPartial func(text string)
	OnAssistantFinal   func(text string)
	OnAssistantAudio   func(muLaw []byte)
	OnDisconnected     func(err error)
}

// Config configures one realtime session.
type Config struct {
	Endpoint     string // wss:// URL of the cloud realtime endpoint
	APIKey       string
	Mode         Mode
	Instructions string // system prompt, conversation mode only
	Voice        string // assistant voice, conversation mode only
	ForceOpening string // one-time per-response instruction to speak first
	Logger       *slog.Logger
}

// Session is one realtime connection for one call.
type Session struct {
	cfg Config
	cb  Callbacks

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	closed     bool
	ackCh      chan struct{}
	ackOnce    sync.Once
	doneCh     chan struct{}
	reconnects int

	turnMu            sync.Mutex
	partialUser       string
	assistantFinalSent bool
	openingSent       bool
}

// New constructs a Session; Connect must be called before SendAudio.
func New(cfg Config, cb Callbacks) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{cfg: cfg, cb: cb, ackCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Connect opens the WebSocket and blocks until the server confirms session
// configuration (bounded by sessionAckTimeout) so that the first assistant
// response isn't triggered under default instructions and reset mid-utterance.
func (s *Session) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.ackCh = make(chan struct{})
	s.ackOnce = sync.Once{}
	s.mu.Unlock()

	go s.readLoop()

	if err := s.sendSessionUpdate(); err != nil {
		return err
	}

	select {
	case <-s.ackCh:
	case <-time.After(sessionAckTimeout):
		s.cfg.Logger.Warn("realtime: session.updated ack not received within timeout, proceeding anyway",
			"timeout", sessionAckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.cfg.Mode == ModeConversation && s.cfg.ForceOpening != "" {
		s.triggerOpening()
	}
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.Endpoint, header)
	if err != nil {
		return nil, verr.Wrap(verr.RealtimeDisconnect, "realtime dial failed", err)
	}
	return conn, nil
}

// wireEvent is the realtime model's JSON event envelope: a type
// discriminator plus whichever payload fields that type carries.
type wireEvent struct {
	Type         string `json:"type"`
	Session      *sessionPayload `json:"session,omitempty"`
	Delta        string `json:"delta,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	Audio        string `json:"audio,omitempty"` // base64 mu-law
	Instructions string `json:"instructions,omitempty"`
	Response     *responsePayload `json:"response,omitempty"`
}

type sessionPayload struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
	InputFormat  string   `json:"input_audio_format,omitempty"`
	OutputFormat string   `json:"output_audio_format,omitempty"`
}

type responsePayload struct {
	Instructions string `json:"instructions,omitempty"`
}

func (s *Session) sendSessionUpdate() error {
	sess := sessionPayload{
		InputFormat:  "g711_ulaw",
		OutputFormat: "g711_ulaw",
	}
	if s.cfg.Mode == ModeConversation {
		sess.Modalities = []string{"text", "audio"}
		sess.Instructions = s.cfg.Instructions
		sess.Voice = s.cfg.Voice
	} else {
		sess.Modalities = []string{"text"}
	}
	return s.writeJSON(wireEvent{Type: "session.update", Session: &sess})
}

func (s *Session) triggerOpening() {
	s.turnMu.Lock()
	if s.openingSent {
		s.turnMu.Unlock()
		return
	}
	s.openingSent = true
	s.turnMu.Unlock()

	_ = s.writeJSON(wireEvent{
		Type:     "response.create",
		Response: &responsePayload{Instructions: s.cfg.ForceOpening},
	})
}

// SendAudio appends carrier audio to the session's input buffer; a no-op
// when not connected (spec.md §4.3).
func (s *Session) SendAudio(muLaw []byte) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected || len(muLaw) == 0 {
		return
	}
	_ = s.writeJSON(wireEvent{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(muLaw)})
}

func (s *Session) writeJSON(ev wireEvent) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return verr.New(verr.RealtimeDisconnect, "realtime session not connected")
	}
	if err := conn.WriteJSON(ev); err != nil {
		return verr.Wrap(verr.RealtimeDisconnect, "realtime write failed", err)
	}
	return nil
}

func (s *Session) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			s.handleDisconnect(err)
			return
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev wireEvent) {
	switch ev.Type {
	case "session.updated":
		s.ackOnce.Do(func() { close(s.ackCh) })

	case "input_audio_buffer.speech_started":
		// Discard any buffered partial user transcript on barge-in.
		s.turnMu.Lock()
		s.partialUser = ""
		s.turnMu.Unlock()
		if s.cb.OnSpeechStart != nil {
			s.cb.OnSpeechStart()
		}

	case "conversation.item.input_audio_transcription.delta":
		s.turnMu.Lock()
		s.partialUser += ev.Delta
		partial := s.partialUser
		s.turnMu.Unlock()
		if s.cb.OnUserPartial != nil {
			s.cb.OnUserPartial(partial)
		}

	case "conversation.item.input_audio_transcription.completed":
		s.turnMu.Lock()
		s.partialUser = ""
		s.turnMu.Unlock()
		if s.cb.OnUserFinal != nil {
			s.cb.OnUserFinal(ev.Transcript)
		}

	case "response.audio.delta":
		if ev.Audio != "" && s.cb.OnAssistantAudio != nil {
			decoded, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err == nil {
				s.cb.OnAssistantAudio(decoded)
			}
		}

	case "response.audio_transcript.delta":
		if s.cb.OnAssistantPartial != nil {
			s.cb.OnAssistantPartial(ev.Delta)
		}

	case "response.audio_transcript.done":
		s.emitAssistantFinalOnce(ev.Transcript)

	case "response.output_item.done":
		s.emitAssistantFinalOnce(ev.Transcript)

	case "response.created":
		s.turnMu.Lock()
		s.assistantFinalSent = false
		s.turnMu.Unlock()
	}
}

// emitAssistantFinalOnce guards against the transcript-done and
// item-done signals both firing for the same turn (spec.md §4.3: assistant
// final text MUST be emitted exactly once per turn).
func (s *Session) emitAssistantFinalOnce(text string) {
	if text == "" {
		return
	}
	s.turnMu.Lock()
	already := s.assistantFinalSent
	s.assistantFinalSent = true
	s.turnMu.Unlock()

	if !already && s.cb.OnAssistantFinal != nil {
		s.cb.OnAssistantFinal(text)
	}
}

func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	wasClosed := s.closed
	s.connected = false
	s.conn = nil
	s.mu.Unlock()

	if wasClosed {
		return
	}

	if s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(verr.Wrap(verr.RealtimeDisconnect, "realtime connection lost", err))
	}

	if s.cfg.Mode == ModeConversation {
		// Conversation mode MUST NOT reconnect: server state is not
		// preserved and resumption would desync dialog.
		close(s.doneCh)
		return
	}

	s.mu.Lock()
	s.reconnects++
	attempt := s.reconnects
	s.mu.Unlock()

	if attempt > maxTranscriptionReconnects {
		s.cfg.Logger.Error("realtime: exhausted reconnect attempts", "attempts", attempt)
		close(s.doneCh)
		return
	}

	backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	s.cfg.Logger.Warn("realtime: reconnecting", "attempt", attempt, "backoff", backoff)
	time.Sleep(backoff)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		s.cfg.Logger.Error("realtime: reconnect failed", "error", err)
		s.handleDisconnect(err)
	}
}

// Done returns a channel closed once the session has permanently stopped
// (conversation-mode disconnect, or transcription-mode reconnect exhaustion).
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Close tears down the underlying connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		s.connected = false
		return err
	}
	return nil
}

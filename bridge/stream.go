package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream is one live media connection, framed-JSON or raw-binary.
type Stream struct {
	bridge *Bridge
	conn   *websocket.Conn
	kind   Kind

	callID    string
	streamSID string
	token     string

	queue *ttsQueue

	mu       sync.Mutex
	accepted bool
	closed   bool
	done     chan struct{}

	// OnAudio is set by Hooks.OnStreamAccepted before the hook returns; it
	// receives each inbound mu-law chunk as it arrives.
	OnAudio func(muLaw []byte)
}

// CallID returns the internal callId this stream was resolved to.
func (s *Stream) CallID() string { return s.callID }

// StreamSID returns the carrier-assigned stream identifier (empty for
// raw-binary transports, which have none).
func (s *Stream) StreamSID() string { return s.streamSID }

// framedMessage mirrors the Twilio Media Streams JSON envelope (spec.md
// §4.4): at most one of Start/Media/DTMF is populated per Event ("stop"
// and the other events carry none).
type framedMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	DTMF      *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

func (s *Stream) readLoop() {
	defer s.close()

	// Raw-binary transport: identity was already resolved from the query
	// token in ServeHTTP; accept (or reject) immediately.
	if s.kind == KindRawBinary {
		if s.callID == "" || !s.tryAccept(AcceptRequest{CallID: s.callID, Token: s.token}) {
			s.closeWithCode(websocket.ClosePolicyViolation)
			return
		}
	}

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.BinaryMessage {
			// Raw-binary carrier media; only valid once accepted.
			s.mu.Lock()
			accepted := s.accepted
			s.mu.Unlock()
			if accepted && s.OnAudio != nil {
				s.OnAudio(data)
			}
			continue
		}

		var msg framedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.handleFramed(msg)
	}
}

func (s *Stream) handleFramed(msg framedMessage) {
	switch msg.Event {
	case "start":
		if msg.Start == nil {
			return
		}
		s.streamSID = msg.Start.StreamSID
		if s.streamSID == "" {
			s.streamSID = msg.StreamSID
		}

		callID := resolveCallID(msg.Start)
		if callID == "" {
			tok := msg.Start.CustomParameters["token"]
			if cid, ok := s.bridge.resolveByToken(tok); ok {
				callID = cid
			}
		}
		if callID == "" {
			s.closeWithCode(websocket.ClosePolicyViolation)
			return
		}
		s.callID = callID
		s.kind = KindFramedJSON

		if !s.tryAccept(AcceptRequest{CallID: callID, StreamSID: s.streamSID}) {
			s.closeWithCode(websocket.ClosePolicyViolation)
			return
		}

		// Server-originated ack so the carrier begins playing inbound audio.
		_ = s.writeJSON(map[string]any{"event": "start", "streamSid": s.streamSID})

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return
		}
		s.mu.Lock()
		accepted := s.accepted
		s.mu.Unlock()
		if !accepted {
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return
		}
		if s.OnAudio != nil {
			s.OnAudio(decoded)
		}

	case "dtmf":
		if msg.DTMF != nil && s.bridge.hooks.OnDTMF != nil {
			s.bridge.hooks.OnDTMF(s.callID, msg.DTMF.Digit)
		}

	case "stop":
		s.closeWithCode(websocket.CloseNormalClosure)
	}
}

// resolveCallID implements the §4.4 identity chain for framed-JSON starts:
// customParameters.callId / callSid / providerCallId / call_session_history_id.
func resolveCallID(start *startPayload) string {
	if v := start.CustomParameters["callId"]; v != "" {
		return v
	}
	if v := start.CustomParameters["callSid"]; v != "" {
		return v
	}
	if v := start.CustomParameters["providerCallId"]; v != "" {
		return v
	}
	if v := start.CustomParameters["call_session_history_id"]; v != "" {
		return v
	}
	if start.CallSID != "" {
		return start.CallSID
	}
	return ""
}

func (s *Stream) tryAccept(req AcceptRequest) bool {
	if s.bridge.hooks.ShouldAcceptStream != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !s.bridge.hooks.ShouldAcceptStream(ctx, req) {
			return false
		}
	}

	s.mu.Lock()
	s.accepted = true
	s.mu.Unlock()

	s.bridge.register(s)
	if s.bridge.hooks.OnStreamAccepted != nil {
		s.bridge.hooks.OnStreamAccepted(s)
	}
	return true
}

// enqueuePlayback queues a mu-law clip for frame-paced playback.
func (s *Stream) enqueuePlayback(muLaw []byte) <-chan error {
	return s.queue.enqueue(func(ctx context.Context) error {
		return s.playPaced(ctx, muLaw)
	})
}

// playPaced chunks audio at frameSize bytes and sleeps framePace between
// chunks (spec.md §4.4 "Frame pacing"), checking the abort signal before
// each chunk and after each sleep.
func (s *Stream) playPaced(ctx context.Context, muLaw []byte) error {
	for offset := 0; offset < len(muLaw); offset += frameSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := offset + frameSize
		if end > len(muLaw) {
			end = len(muLaw)
		}
		if err := s.sendAudioChunk(muLaw[offset:end]); err != nil {
			return err
		}

		if end < len(muLaw) {
			t := time.NewTimer(framePace)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil
}

func (s *Stream) sendAudioChunk(chunk []byte) error {
	switch s.kind {
	case KindRawBinary:
		return s.writeBinary(chunk)
	default:
		return s.writeJSON(map[string]any{
			"event":     "media",
			"streamSid": s.streamSID,
			"media":     map[string]string{"payload": base64.StdEncoding.EncodeToString(chunk)},
		})
	}
}

// ClearTtsQueue aborts in-flight playback, drops queued operations without
// executing them, and emits a clear frame to the carrier.
func (s *Stream) ClearTtsQueue() {
	s.queue.clear()
	if s.kind == KindFramedJSON {
		_ = s.writeJSON(map[string]any{"event": "clear", "streamSid": s.streamSID})
	}
}

func (s *Stream) sendMark(name string) error {
	if s.kind != KindFramedJSON {
		return nil
	}
	return s.writeJSON(map[string]any{
		"event":     "mark",
		"streamSid": s.streamSID,
		"mark":      map[string]string{"name": name},
	})
}

func (s *Stream) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn.WriteJSON(v)
}

func (s *Stream) writeBinary(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *Stream) closeWithCode(code int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.close()
}

func (s *Stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()
	s.queue.clear()
	s.bridge.unregister(s)
	if s.bridge.hooks.OnStreamClosed != nil {
		s.bridge.hooks.OnStreamClosed(s)
	}
}

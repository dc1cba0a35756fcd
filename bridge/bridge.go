// Package bridge implements the media-stream bridge (spec.md §4.4): a
// WebSocket server accepting either framed-JSON (Twilio-style) or raw-binary
// (Voximplant-style) carrier media, wiring each accepted stream to a
// realtime.Session and exposing a per-stream TTS queue with barge-in. The
// read/write loop shape over one *websocket.Conn is the same one
// agentplexus-omnivoice-twilio/transport.Connection uses.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/voicebridge/verr"
)

// Kind distinguishes the two supported wire transports.
type Kind int

const (
	KindFramedJSON Kind = iota
	KindRawBinary
)

// frameSize/framePace implement the §4.4 frame-pacing invariant: chunk
// synthesized audio at 160 bytes, sleep 20ms between chunks.
const (
	frameSize = 160
	framePace = 20 * time.Millisecond
)

// AcceptRequest is passed to Hooks.ShouldAcceptStream once callId has been
// resolved.
type AcceptRequest struct {
	CallID    string
	StreamSID string
	Token     string
}

// Hooks lets the call manager and server own policy decisions the bridge
// itself is transport-agnostic about.
type Hooks struct {
	// ResolveCallIDByToken is consulted when identity cannot be recovered
	// from the framed-JSON start payload (raw-binary transport, or a
	// framed payload missing every known identity field).
	ResolveCallIDByToken func(token string) (callID string, ok bool)
	// ShouldAcceptStream authorizes (or rejects, closing with code 1008) a
	// resolved connection.
	ShouldAcceptStream func(ctx context.Context, req AcceptRequest) bool
	// OnStreamAccepted is called once a Stream is live; the callee
	// typically creates a realtime.Session here and wires its callbacks.
	OnStreamAccepted func(s *Stream)
	// OnStreamClosed is called when a Stream's connection ends.
	OnStreamClosed func(s *Stream)
	// OnDTMF relays carrier DTMF digits.
	OnDTMF func(callID, digit string)
}

// Bridge owns all live streams and the WS upgrade entry point.
type Bridge struct {
	hooks    Hooks
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream // keyed by streamSid (framed) or callId (raw)
}

// New constructs a Bridge.
func New(hooks Hooks, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		hooks: hooks,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		streams: make(map[string]*Stream),
	}
}

// ServeHTTP upgrades the connection and runs it until the carrier
// disconnects or the stream is rejected/closed.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("bridge: websocket upgrade failed", "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	s := &Stream{
		bridge: b,
		conn:   conn,
		token:  token,
		queue:  newTtsQueue(),
		done:   make(chan struct{}),
	}

	// Raw-binary identity is known up front via the query token; framed
	// identity arrives with the first "start" message.
	if cid, ok := b.resolveByToken(token); ok {
		s.callID = cid
		s.kind = KindRawBinary
	}

	go s.readLoop()
}

func (b *Bridge) resolveByToken(token string) (string, bool) {
	if token == "" || b.hooks.ResolveCallIDByToken == nil {
		return "", false
	}
	return b.hooks.ResolveCallIDByToken(token)
}

func (b *Bridge) register(s *Stream) {
	b.mu.Lock()
	key := s.streamSID
	if key == "" {
		key = s.callID
	}
	b.streams[key] = s
	b.mu.Unlock()
}

func (b *Bridge) unregister(s *Stream) {
	b.mu.Lock()
	key := s.streamSID
	if key == "" {
		key = s.callID
	}
	delete(b.streams, key)
	b.mu.Unlock()
}

// byStreamSID looks up a live stream for outbound operations (Enqueue,
// SendMark, ClearTtsQueue).
func (b *Bridge) byStreamSID(streamSID string) (*Stream, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.streams[streamSID]
	return s, ok
}

// ClearTtsQueue implements provider.TtsQueueClearer.
func (b *Bridge) ClearTtsQueue(streamSID string) {
	if s, ok := b.byStreamSID(streamSID); ok {
		s.ClearTtsQueue()
	}
}

// Enqueue queues a synthesized mu-law clip for frame-paced playback on the
// named stream. It is called by the call manager's speak() when the call is
// in streaming conversation mode (spec.md §4.6).
func (b *Bridge) Enqueue(streamSID string, muLaw []byte) <-chan error {
	s, ok := b.byStreamSID(streamSID)
	if !ok {
		ch := make(chan error, 1)
		ch <- verr.New(verr.NoControlUrl, "bridge: no live stream for streamSid")
		return ch
	}
	return s.enqueuePlayback(muLaw)
}

// SendMark sends a synchronization mark frame (framed-JSON transport only;
// a no-op on raw-binary streams, which have no mark concept).
func (b *Bridge) SendMark(streamSID, name string) error {
	s, ok := b.byStreamSID(streamSID)
	if !ok {
		return verr.New(verr.NoControlUrl, "bridge: no live stream")
	}
	return s.sendMark(name)
}


package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/openclaw/voicebridge/outcome"
)

// Tunnel is the contract for an external tunnel provider (ngrok, tailscale,
// ...). Opening keeps the tunnel alive until Close; spec.md §1 explicitly
// places real tunnel implementations out of scope, so voicebridge only
// defines the contract plus a local-network fallback.
type Tunnel interface {
	Open(ctx context.Context, localPort int) (publicURL string, err error)
	Close() error
}

// MockChatChannel logs delivered messages instead of calling out to a real
// chat backend. Good enough to drive the CLI and tests end-to-end.
type MockChatChannel struct {
	mu       sync.Mutex
	Log      *slog.Logger
	Sent     []SentMessage
}

type SentMessage struct {
	ChatID string
	Text   string
}

var _ outcome.ChatChannel = (*MockChatChannel)(nil)

func (m *MockChatChannel) SendMessage(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Text: text})
	if m.Log != nil {
		m.Log.Info("chat delivery (mock)", "chatId", chatID)
	}
	return nil
}

// MockAgentRuntime records enqueued system events keyed by contextKey, so
// redelivery is naturally a no-op when the caller dedups on that key.
type MockAgentRuntime struct {
	mu     sync.Mutex
	Log    *slog.Logger
	Events map[string]SystemEvent
}

type SystemEvent struct {
	Text       string
	SessionKey string
	ContextKey string
}

var _ outcome.AgentRuntime = (*MockAgentRuntime)(nil)

func NewMockAgentRuntime() *MockAgentRuntime {
	return &MockAgentRuntime{Events: make(map[string]SystemEvent)}
}

func (m *MockAgentRuntime) EnqueueSystemEvent(ctx context.Context, text string, sessionKey, contextKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.Events[contextKey]; exists {
		return nil
	}
	m.Events[contextKey] = SystemEvent{Text: text, SessionKey: sessionKey, ContextKey: contextKey}
	if m.Log != nil {
		m.Log.Info("system event enqueued (mock)", "contextKey", contextKey)
	}
	return nil
}

// localTunnel is the "fall back to local URL" leaf of the §4.9 priority
// chain: it never dials out, it just reports the local address of the
// host's route to the internet (127.0.0.1 when there is none).
type localTunnel struct{}

func (localTunnel) Open(ctx context.Context, port int) (string, error) {
	addr, err := outboundIP()
	if err != nil {
		return fmt.Sprintf("http://127.0.0.1:%d", port), nil
	}
	return fmt.Sprintf("http://%s:%d", addr, port), nil
}

func (localTunnel) Close() error { return nil }

// outboundIP finds the local IP that would be used to reach the internet,
// without sending any packets (a UDP "connect" just selects a route).
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr)
	return local.IP.String(), nil
}

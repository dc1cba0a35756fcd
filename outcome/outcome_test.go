package outcome

import (
	"testing"

	"github.com/openclaw/voicebridge/callmanager"
)

func TestResolveChatIDPrefersSessionKey(t *testing.T) {
	got := resolveChatID("telegram:dm:123456", "telegram:direct:999")
	if got != "123456" {
		t.Fatalf("got %q, want %q", got, "123456")
	}
}

func TestResolveChatIDMatchesSpecScenarioS1PrefixedSessionKey(t *testing.T) {
	got := resolveChatID("agent:main:telegram:dm:42", "")
	if got != "42" {
		t.Fatalf("got %q, want %q", got, "42")
	}
}

func TestResolveChatIDFallsBackToMessageTo(t *testing.T) {
	got := resolveChatID("", "telegram:group:-1001234")
	if got != "-1001234" {
		t.Fatalf("got %q, want %q", got, "-1001234")
	}
}

func TestResolveChatIDMessageToWithoutKindPrefix(t *testing.T) {
	got := resolveChatID("", "telegram:555")
	if got != "555" {
		t.Fatalf("got %q, want %q", got, "555")
	}
}

func TestResolveChatIDEmptyWhenNeitherMatches(t *testing.T) {
	if got := resolveChatID("not-a-session-key", "also-not-one"); got != "" {
		t.Fatalf("expected empty chatID, got %q", got)
	}
}

func TestClampTranscriptKeepsLastNInOrder(t *testing.T) {
	entries := make([]callmanager.TranscriptEntry, 5)
	for i := range entries {
		entries[i] = callmanager.TranscriptEntry{Role: "user", Text: string(rune('a' + i))}
	}
	clamped := clampTranscript(entries, 3)
	if len(clamped) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(clamped))
	}
	if clamped[0].Text != "c" || clamped[2].Text != "e" {
		t.Fatalf("expected last 3 in order, got %+v", clamped)
	}
}

func TestClampTranscriptNoOpWhenUnderLimit(t *testing.T) {
	entries := []callmanager.TranscriptEntry{{Role: "user", Text: "hi"}}
	clamped := clampTranscript(entries, 120)
	if len(clamped) != 1 {
		t.Fatalf("expected passthrough, got %d entries", len(clamped))
	}
}

package bridge

import (
	"testing"

	"github.com/openclaw/voicebridge/verr"
)

func TestResolveByTokenUsesHookWhenTokenPresent(t *testing.T) {
	b := New(Hooks{
		ResolveCallIDByToken: func(token string) (string, bool) {
			if token == "good-token" {
				return "call-1", true
			}
			return "", false
		},
	}, nil)

	callID, ok := b.resolveByToken("good-token")
	if !ok || callID != "call-1" {
		t.Fatalf("got (%q, %v), want (call-1, true)", callID, ok)
	}

	if _, ok := b.resolveByToken("bad-token"); ok {
		t.Fatal("expected an unrecognized token to fail resolution")
	}
}

func TestResolveByTokenNoOpWithoutHookOrToken(t *testing.T) {
	b := New(Hooks{}, nil)
	if _, ok := b.resolveByToken("anything"); ok {
		t.Fatal("expected no resolution when no hook is configured")
	}
	b2 := New(Hooks{ResolveCallIDByToken: func(string) (string, bool) { return "x", true }}, nil)
	if _, ok := b2.resolveByToken(""); ok {
		t.Fatal("expected no resolution for an empty token even with a hook configured")
	}
}

func TestRegisterAndUnregisterByStreamSID(t *testing.T) {
	b := New(Hooks{}, nil)
	s := &Stream{streamSID: "sid-1", callID: "call-1", queue: newTtsQueue()}

	b.register(s)
	got, ok := b.byStreamSID("sid-1")
	if !ok || got != s {
		t.Fatalf("expected to find the registered stream by streamSid")
	}

	b.unregister(s)
	if _, ok := b.byStreamSID("sid-1"); ok {
		t.Fatal("expected the stream to be gone after unregister")
	}
}

func TestRegisterFallsBackToCallIDWhenNoStreamSID(t *testing.T) {
	b := New(Hooks{}, nil)
	s := &Stream{callID: "call-raw-1", queue: newTtsQueue()}

	b.register(s)
	if _, ok := b.byStreamSID("call-raw-1"); !ok {
		t.Fatal("expected raw-binary streams to be keyed by callId")
	}
}

func TestEnqueueReturnsErrorForUnknownStream(t *testing.T) {
	b := New(Hooks{}, nil)
	ch := b.Enqueue("no-such-stream", []byte{0xff})
	err := <-ch
	if verr.CodeOf(err) != verr.NoControlUrl {
		t.Fatalf("expected NoControlUrl, got %v", err)
	}
}

func TestSendMarkReturnsErrorForUnknownStream(t *testing.T) {
	b := New(Hooks{}, nil)
	if err := b.SendMark("no-such-stream", "mark1"); verr.CodeOf(err) != verr.NoControlUrl {
		t.Fatalf("expected NoControlUrl, got %v", err)
	}
}

func TestClearTtsQueueIsNoOpForUnknownStream(t *testing.T) {
	b := New(Hooks{}, nil)
	b.ClearTtsQueue("no-such-stream") // must not panic
}

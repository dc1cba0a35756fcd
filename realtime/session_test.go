package realtime

import (
	"testing"

	"github.com/openclaw/voicebridge/verr"
)

func TestDispatchSessionUpdatedUnblocksAck(t *testing.T) {
	s := New(Config{}, Callbacks{})
	select {
	case <-s.ackCh:
		t.Fatal("ackCh should not be closed before session.updated arrives")
	default:
	}

	s.dispatch(wireEvent{Type: "session.updated"})

	select {
	case <-s.ackCh:
	default:
		t.Fatal("expected ackCh to be closed after session.updated")
	}
}

func TestDispatchUserTranscriptionPartialAndFinal(t *testing.T) {
	var partials []string
	var finals []string
	s := New(Config{}, Callbacks{
		OnUserPartial: func(text string) { partials = append(partials, text) },
		OnUserFinal:   func(text string) { finals = append(finals, text) },
	})

	s.dispatch(wireEvent{Type: "conversation.item.input_audio_transcription.delta", Delta: "hel"})
	s.dispatch(wireEvent{Type: "conversation.item.input_audio_transcription.delta", Delta: "lo"})
	if len(partials) != 2 || partials[1] != "hello" {
		t.Fatalf("expected accumulated partial transcript, got %+v", partials)
	}

	s.dispatch(wireEvent{Type: "conversation.item.input_audio_transcription.completed", Transcript: "hello there"})
	if len(finals) != 1 || finals[0] != "hello there" {
		t.Fatalf("expected one final transcript, got %+v", finals)
	}

	// A barge-in (speech_started) must clear the accumulated partial.
	s.dispatch(wireEvent{Type: "conversation.item.input_audio_transcription.delta", Delta: "x"})
	s.dispatch(wireEvent{Type: "input_audio_buffer.speech_started"})
	s.dispatch(wireEvent{Type: "conversation.item.input_audio_transcription.delta", Delta: "y"})
	if got := partials[len(partials)-1]; got != "y" {
		t.Fatalf("expected partial to reset after speech_started, got %q", got)
	}
}

func TestSpeechStartCallbackFires(t *testing.T) {
	var fired bool
	s := New(Config{}, Callbacks{OnSpeechStart: func() { fired = true }})
	s.dispatch(wireEvent{Type: "input_audio_buffer.speech_started"})
	if !fired {
		t.Fatal("expected OnSpeechStart to fire")
	}
}

func TestAssistantAudioDeltaDecodesBase64(t *testing.T) {
	var got []byte
	s := New(Config{}, Callbacks{OnAssistantAudio: func(muLaw []byte) { got = muLaw }})
	// base64 of "hi"
	s.dispatch(wireEvent{Type: "response.audio.delta", Audio: "aGk="})
	if string(got) != "hi" {
		t.Fatalf("got %q, want %q", got, "hi")
	}
}

func TestAssistantAudioDeltaIgnoresInvalidBase64(t *testing.T) {
	called := false
	s := New(Config{}, Callbacks{OnAssistantAudio: func(muLaw []byte) { called = true }})
	s.dispatch(wireEvent{Type: "response.audio.delta", Audio: "not-valid-base64!!"})
	if called {
		t.Fatal("expected an invalid base64 payload to be dropped silently")
	}
}

func TestEmitAssistantFinalOnceDedupsAcrossBothSignals(t *testing.T) {
	var finals []string
	s := New(Config{}, Callbacks{OnAssistantFinal: func(text string) { finals = append(finals, text) }})

	s.dispatch(wireEvent{Type: "response.audio_transcript.done", Transcript: "the answer"})
	s.dispatch(wireEvent{Type: "response.output_item.done", Transcript: "the answer"})

	if len(finals) != 1 {
		t.Fatalf("expected exactly one assistant-final emission per turn, got %d: %+v", len(finals), finals)
	}

	// A new turn (response.created) must reset the guard.
	s.dispatch(wireEvent{Type: "response.created"})
	s.dispatch(wireEvent{Type: "response.audio_transcript.done", Transcript: "a second answer"})
	if len(finals) != 2 || finals[1] != "a second answer" {
		t.Fatalf("expected a second final after response.created reset the guard, got %+v", finals)
	}
}

func TestEmitAssistantFinalOnceIgnoresEmptyText(t *testing.T) {
	called := false
	s := New(Config{}, Callbacks{OnAssistantFinal: func(text string) { called = true }})
	s.dispatch(wireEvent{Type: "response.audio_transcript.done", Transcript: ""})
	if called {
		t.Fatal("expected an empty transcript to never trigger OnAssistantFinal")
	}
}

func TestSendAudioNoOpWhenNotConnected(t *testing.T) {
	s := New(Config{}, Callbacks{})
	// Must not panic even though s.conn is nil.
	s.SendAudio([]byte{0x01, 0x02})
}

func TestWriteJSONFailsWithoutConnection(t *testing.T) {
	s := New(Config{}, Callbacks{})
	err := s.writeJSON(wireEvent{Type: "session.update"})
	if verr.CodeOf(err) != verr.RealtimeDisconnect {
		t.Fatalf("expected RealtimeDisconnect, got %v", err)
	}
}

func TestCloseIsIdempotentWithoutConnection(t *testing.T) {
	s := New(Config{}, Callbacks{})
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestTriggerOpeningSendsOnlyOnce(t *testing.T) {
	s := New(Config{ForceOpening: "say hello first"}, Callbacks{})
	// No live connection, so writeJSON fails silently; this only exercises
	// the openingSent guard, not the wire write.
	s.triggerOpening()
	if !s.openingSent {
		t.Fatal("expected openingSent to be set after triggerOpening")
	}
	s.triggerOpening() // must not panic or toggle state twice
}

package callmanager

import (
	"context"
	"testing"
	"time"

	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/provider/mock"
	"github.com/openclaw/voicebridge/verr"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *mock.Provider) {
	t.Helper()
	p := mock.New()
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "US"
	}
	m, err := New(cfg, Dependencies{
		Providers:       map[string]provider.Provider{"mock": p},
		DefaultProvider: "mock",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, p
}

func TestInitiateCallCreatesRingingRecord(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671", From: "+14155552672"})
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	snap, ok := m.GetCall(res.CallID)
	if !ok {
		t.Fatal("expected call record to exist")
	}
	if snap.State != StateRinging {
		t.Fatalf("expected state ringing, got %s", snap.State)
	}
	if snap.Direction != provider.Outbound {
		t.Fatalf("expected outbound direction, got %s", snap.Direction)
	}
}

func TestInitiateCallRejectsInvalidNumber(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "not-a-number"})
	if res.Success {
		t.Fatal("expected failure for invalid number")
	}
}

func TestInitiateCallEnforcesConcurrencyCap(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrentCalls: 1})
	res1 := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})
	if !res1.Success {
		t.Fatalf("expected first call to succeed, got %q", res1.Error)
	}
	res2 := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552672"})
	if res2.Success {
		t.Fatal("expected second call to be rejected by the concurrency cap")
	}
}

func TestInitiateCallUnknownProviderFails(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671", Provider: "nope"})
	if res.Success {
		t.Fatal("expected failure for unknown provider")
	}
}

func TestOnProviderEventDrivesRingingToActive(t *testing.T) {
	m, p := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})
	if !res.Success {
		t.Fatalf("initiate failed: %s", res.Error)
	}
	pcid, ok := p.ProviderCallID(res.CallID)
	if !ok {
		t.Fatal("expected mock provider to have recorded a providerCallID")
	}

	for _, ev := range p.Simulate(pcid, provider.EventCallAnswered) {
		m.OnProviderEvent(ev)
	}
	snap, _ := m.GetCall(res.CallID)
	if snap.State != StateAnswered {
		t.Fatalf("expected state answered, got %s", snap.State)
	}

	m.BindStream(res.CallID, "stream-1", "", "")
	snap, _ = m.GetCall(res.CallID)
	if snap.State != StateActive {
		t.Fatalf("expected state active after BindStream, got %s", snap.State)
	}
}

func TestOnProviderEventCreatesInboundCallRecord(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.OnProviderEvent(provider.NormalizedEvent{
		Type:           provider.EventCallInitiated,
		Direction:      provider.Inbound,
		ProviderCallID: "pcid-inbound-1",
		From:           "+14155552671",
		To:             "+14155552672",
	})

	snap, ok := m.GetCallByProviderCallID("pcid-inbound-1")
	if !ok {
		t.Fatal("expected an inbound call record to have been created")
	}
	if snap.Direction != provider.Inbound {
		t.Fatalf("expected inbound direction, got %s", snap.Direction)
	}
	if snap.State != StateRinging {
		t.Fatalf("expected state ringing, got %s", snap.State)
	}
}

func TestOnProviderEventIgnoresUnknownOutboundEvent(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.OnProviderEvent(provider.NormalizedEvent{
		Type:           provider.EventCallAnswered,
		ProviderCallID: "pcid-does-not-exist",
	})
	if _, ok := m.GetCallByProviderCallID("pcid-does-not-exist"); ok {
		t.Fatal("expected no call record to be created for an unknown non-initiated event")
	}
}

func TestEndCallFinalizesWithHangupReason(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})

	if err := m.EndCall(context.Background(), res.CallID, true); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	snap, _ := m.GetCall(res.CallID)
	if snap.State != StateHangupBot {
		t.Fatalf("expected hangup-bot, got %s", snap.State)
	}
	if snap.EndReason != provider.ReasonHangupBot {
		t.Fatalf("expected reason hangup-bot, got %s", snap.EndReason)
	}
}

func TestEndCallOnUnknownCallReturnsNotFound(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	err := m.EndCall(context.Background(), "does-not-exist", false)
	if verr.CodeOf(err) != verr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFinalizeIsIdempotentForSameTerminalState(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})
	call, _ := m.Get(res.CallID)

	if err := m.finalize(call, StateCompleted, provider.ReasonCompleted); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if err := m.finalize(call, StateCompleted, provider.ReasonCompleted); err != nil {
		t.Fatalf("expected idempotent no-op finalize, got %v", err)
	}
}

func TestFinalizeRejectsConflictingTerminalState(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})
	call, _ := m.Get(res.CallID)

	if err := m.finalize(call, StateCompleted, provider.ReasonCompleted); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	err := m.finalize(call, StateFailed, provider.ReasonFailed)
	if verr.CodeOf(err) != verr.InvalidTransition {
		t.Fatalf("expected InvalidTransition on conflicting finalize, got %v", err)
	}
}

func TestContinueCallAppendsBotTranscriptEntry(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})

	cres := m.ContinueCall(context.Background(), res.CallID, "how can I help?")
	if !cres.Success {
		t.Fatalf("ContinueCall failed: %s", cres.Error)
	}
	if len(cres.Transcript) != 1 || cres.Transcript[0].Role != "bot" {
		t.Fatalf("expected a single bot transcript entry, got %+v", cres.Transcript)
	}
}

func TestScheduleTimeoutFiresAfterDuration(t *testing.T) {
	m, _ := newTestManager(t, Config{RingTimeout: 10 * time.Millisecond})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})

	deadline := time.After(time.Second)
	for {
		snap, _ := m.GetCall(res.CallID)
		if snap.State == StateNoAnswer {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected state no-answer after ring timeout, got %s", snap.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnTranscriptPartialUserTurnArmsTranscriptTimeout(t *testing.T) {
	m, _ := newTestManager(t, Config{TranscriptTimeout: 10 * time.Millisecond})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})

	m.OnTranscript(res.CallID, "user", "uh so", false)

	deadline := time.After(time.Second)
	for {
		snap, _ := m.GetCall(res.CallID)
		if snap.State == StateTimeout {
			if snap.EndReason != provider.ReasonTranscriptTimeout {
				t.Fatalf("expected reason transcript-timeout, got %s", snap.EndReason)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected state timeout after transcript timeout, got %s", snap.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOnTranscriptFinalUserTurnDoesNotArmTranscriptTimeout(t *testing.T) {
	m, _ := newTestManager(t, Config{TranscriptTimeout: 10 * time.Millisecond})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})

	m.OnTranscript(res.CallID, "user", "that's all", true)

	time.Sleep(50 * time.Millisecond)
	snap, _ := m.GetCall(res.CallID)
	if snap.State == StateTimeout && snap.EndReason == provider.ReasonTranscriptTimeout {
		t.Fatalf("final turn should reset the silence timeout, not the transcript timeout")
	}
}

func TestFailCallFinalizesAsFailedWithGivenReason(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})

	if err := m.FailCall(context.Background(), res.CallID, provider.ReasonRealtimeDisconnected); err != nil {
		t.Fatalf("FailCall: %v", err)
	}
	snap, _ := m.GetCall(res.CallID)
	if snap.State != StateFailed {
		t.Fatalf("expected state failed, got %s", snap.State)
	}
	if snap.EndReason != provider.ReasonRealtimeDisconnected {
		t.Fatalf("expected reason realtime-disconnected, got %s", snap.EndReason)
	}
}

func TestResetHistoryDropsPriorRecords(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, Config{HistoryPath: dir + "/history.jsonl"})

	res := m.InitiateCall(context.Background(), InitiateCallInput{To: "+14155552671"})
	if err := m.EndCall(context.Background(), res.CallID, true); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	if err := m.ResetHistory(); err != nil {
		t.Fatalf("ResetHistory: %v", err)
	}

	hist, err := m.GetCallHistory(0)
	if err != nil {
		t.Fatalf("GetCallHistory: %v", err)
	}
	for _, s := range hist {
		if s.CallID == res.CallID {
			t.Fatalf("expected reset to hide records logged before it, found %s", s.CallID)
		}
	}
}

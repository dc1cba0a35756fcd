// Package outcome implements the post-hangup pipeline (spec.md §4.8): one
// LLM summary + booking extraction per terminal call, a Google Calendar
// link for confirmed bookings, and delivery either directly to the
// originating chat or as a system event for the next agent turn.
package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/openclaw/voicebridge/callmanager"
)

// BookingDetails is the structured booking record the summarizer may
// extract from the call transcript (spec.md §3).
type BookingDetails struct {
	Confirmed       bool   `json:"confirmed"`
	Restaurant      string `json:"restaurant,omitempty"`
	Date            string `json:"date,omitempty"` // YYYY-MM-DD
	Time            string `json:"time,omitempty"` // HH:MM
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	GuestName       string `json:"guestName,omitempty"`
	GuestCount      int    `json:"guestCount,omitempty"`
	Address         string `json:"address,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// ChatChannel delivers a message to an already-resolved chat id. Modeled on
// the host's sendMessage(chatId, text) contract (spec.md §6).
type ChatChannel interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// AgentRuntime enqueues a system event for the next agent turn, deduped by
// contextKey. Modeled on enqueueSystemEvent(text, {sessionKey, contextKey})
// (spec.md §6).
type AgentRuntime interface {
	EnqueueSystemEvent(ctx context.Context, text string, sessionKey, contextKey string) error
}

// Summarizer issues the single JSON-mode LLM request described in
// spec.md §4.8 step 2.
type Summarizer interface {
	Summarize(ctx context.Context, referenceDate string, transcript []callmanager.TranscriptEntry) (summary string, booking *BookingDetails, err error)
}

// Pipeline runs the outcome pipeline for terminal calls.
type Pipeline struct {
	Summarizer Summarizer
	Chat       ChatChannel
	Agent      AgentRuntime
	Log        *slog.Logger

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// delivRe is deliberately unanchored: sessionKey carries this pattern as a
// suffix of a host-specific prefix (spec.md's own example is
// "agent:main:telegram:dm:42"), so it must match as a substring, not the
// whole key.
var delivRe = regexp.MustCompile(`telegram:(dm|group|direct):(-?\d+)`)
var messageToRe = regexp.MustCompile(`^telegram:(?:([a-zA-Z]+):)?(-?\d+)$`)

// resolveChatID implements spec.md §4.8 step 1: sessionKey first, messageTo
// fallback, empty string if neither resolves.
func resolveChatID(sessionKey, messageTo string) string {
	if m := delivRe.FindStringSubmatch(sessionKey); m != nil {
		return m[2]
	}
	if m := messageToRe.FindStringSubmatch(messageTo); m != nil {
		return m[2]
	}
	return ""
}

// clampTranscript returns the last n entries, preserving order.
func clampTranscript(entries []callmanager.TranscriptEntry, n int) []callmanager.TranscriptEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

const maxTranscriptEntries = 120

// Run executes the pipeline for one terminal call (spec.md §4.8). It is
// intended to be invoked exactly once per call, on its endedAt transition.
func (p *Pipeline) Run(ctx context.Context, call callmanager.Snapshot) {
	log := p.log()
	transcript := clampTranscript(call.Transcript, maxTranscriptEntries)

	sessionKey := call.Metadata["sessionKey"]
	messageTo := call.Metadata["messageTo"]
	chatID := resolveChatID(sessionKey, messageTo)

	summaryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	refDate := referenceDateString(p.now())
	summary, booking, err := p.Summarizer.Summarize(summaryCtx, refDate, transcript)
	if err != nil {
		log.Warn("outcome summary failed", "callId", call.CallID, "error", err)
		summary = fmt.Sprintf("Не удалось получить резюме звонка (%s).", call.CallID)
		booking = nil
	}

	if booking != nil && booking.Confirmed && validBooking(*booking) {
		if url, ok := buildCalendarURL(*booking); ok {
			summary = summary + "\n\n[📅 Добавить в календарь](" + url + ")"
		}
	}

	if chatID != "" {
		if err := p.Chat.SendMessage(ctx, chatID, summary); err != nil {
			log.Warn("outcome chat delivery failed", "callId", call.CallID, "chatId", chatID, "error", err)
		}
		return
	}

	contextKey := "voice-call:" + call.CallID + ":ended"
	if err := p.Agent.EnqueueSystemEvent(ctx, summary, sessionKey, contextKey); err != nil {
		log.Warn("outcome agent enqueue failed", "callId", call.CallID, "error", err)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func validBooking(b BookingDetails) bool {
	return isValidDate(b.Date) && isValidTime(b.Time)
}

package callmanager

import "github.com/openclaw/voicebridge/verr"

// State is one node of the call state machine (spec.md §4.6).
type State string

const (
	StateInitiating State = "initiating"
	StateRinging    State = "ringing"
	StateAnswered   State = "answered"
	StateActive     State = "active"
	StateSpeaking   State = "speaking"
	StateListening  State = "listening"
	StateEnding     State = "ending"

	StateHangupBot  State = "hangup-bot"
	StateHangupUser State = "hangup-user"
	StateBusy       State = "busy"
	StateNoAnswer   State = "no-answer"
	StateVoicemail  State = "voicemail"
	StateTimeout    State = "timeout"
	StateFailed     State = "failed"
	StateCompleted  State = "completed"
)

// terminalStates is the vocabulary reachable from any non-terminal state
// (spec.md §4.6: "any non-terminal → {busy, no-answer, voicemail, timeout,
// failed, completed}"), plus the two states reached only via `ending`.
var terminalStates = map[State]bool{
	StateHangupBot:  true,
	StateHangupUser: true,
	StateBusy:       true,
	StateNoAnswer:   true,
	StateVoicemail:  true,
	StateTimeout:    true,
	StateFailed:     true,
	StateCompleted:  true,
}

// anyNonTerminalTargets is the subset of terminalStates reachable from ANY
// non-terminal state, not just via `ending`.
var anyNonTerminalTargets = map[State]bool{
	StateBusy:      true,
	StateNoAnswer:  true,
	StateVoicemail: true,
	StateTimeout:   true,
	StateFailed:    true,
	StateCompleted: true,
}

// explicitEdges is the non-terminal portion of the state machine.
var explicitEdges = map[State]map[State]bool{
	StateInitiating: {StateRinging: true, StateEnding: true},
	StateRinging:    {StateAnswered: true, StateEnding: true},
	StateAnswered:   {StateActive: true, StateEnding: true},
	StateActive:     {StateSpeaking: true, StateListening: true, StateEnding: true},
	StateSpeaking:   {StateListening: true, StateEnding: true},
	StateListening:  {StateSpeaking: true, StateEnding: true},
	StateEnding:     {StateHangupBot: true, StateHangupUser: true},
}

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool { return terminalStates[s] }

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to State) bool {
	if terminalStates[from] {
		return false
	}
	if anyNonTerminalTargets[to] {
		return true
	}
	return explicitEdges[from][to]
}

// validateTransition returns InvalidTransition if from→to is illegal.
func validateTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return verr.New(verr.InvalidTransition, string(from)+" -> "+string(to)+" is not a legal transition")
}

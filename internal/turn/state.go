package turn

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned for a trigger the current state does not accept
var ErrIllegalTransition = errors.New("illegal turn transition")

// State is the turn-taking state of a conversation
type State int

const (
	// StateReady is idle: no capture, no playback
	StateReady State = iota
	// StateListening has the microphone open and waits for a committed transcript
	StateListening
	// StateThinking waits for the reply text
	StateThinking
	// StateSpeaking plays the reply
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Trigger drives a state change
type Trigger int

const (
	TriggerBegin Trigger = iota
	TriggerCommitted
	TriggerReplyReady
	TriggerPlaybackDone
	TriggerFailure
	TriggerEnd
)

func (t Trigger) String() string {
	switch t {
	case TriggerBegin:
		return "begin"
	case TriggerCommitted:
		return "committed"
	case TriggerReplyReady:
		return "reply_ready"
	case TriggerPlaybackDone:
		return "playback_done"
	case TriggerFailure:
		return "failure"
	case TriggerEnd:
		return "end"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// A failure while listening is recovered by restarting capture in place;
// a failure while thinking or speaking returns to listening.
var transitions = map[State]map[Trigger]State{
	StateReady: {
		TriggerBegin: StateListening,
	},
	StateListening: {
		TriggerCommitted: StateThinking,
		TriggerFailure:   StateListening,
		TriggerEnd:       StateReady,
	},
	StateThinking: {
		TriggerReplyReady: StateSpeaking,
		TriggerFailure:    StateListening,
		TriggerEnd:        StateReady,
	},
	StateSpeaking: {
		TriggerPlaybackDone: StateListening,
		TriggerFailure:      StateListening,
		TriggerEnd:          StateReady,
	},
}

// Next returns the state reached from s on trigger t
func Next(s State, t Trigger) (State, error) {
	if next, ok := transitions[s][t]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, s, t)
}

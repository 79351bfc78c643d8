package turn

import "time"

// EventKind names what a session event reports
type EventKind string

const (
	EventState     EventKind = "state"
	EventPartial   EventKind = "partial"
	EventCommitted EventKind = "committed"
	EventReply     EventKind = "reply"
	EventError     EventKind = "error"
	EventTurn      EventKind = "turn"
)

// Event is published to session subscribers
type Event struct {
	Kind      EventKind   `json:"kind"`
	State     string      `json:"state,omitempty"`
	Text      string      `json:"text,omitempty"`
	Utterance string      `json:"utterance_id,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timing    *TurnTiming `json:"timing,omitempty"`
	At        time.Time   `json:"at"`
}

// Info is a point-in-time view of a session
type Info struct {
	ID           string      `json:"id"`
	State        string      `json:"state"`
	Partial      string      `json:"partial,omitempty"`
	Turns        int         `json:"turns"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActivity time.Time   `json:"last_activity"`
	Error        string      `json:"error,omitempty"`
	LastTurn     *TurnTiming `json:"last_turn,omitempty"`
}

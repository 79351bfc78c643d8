package capture

import "fmt"

// EventKind distinguishes transcript events
type EventKind int

const (
	// EventPartial carries an interim transcript that the next partial replaces
	EventPartial EventKind = iota
	// EventCommitted carries the final transcript of one utterance
	EventCommitted
	// EventError reports a backend error that did not end the connection
	EventError
	// EventFailure reports that capture stopped on its own; no further
	// events follow it
	EventFailure
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventCommitted:
		return "committed"
	case EventError:
		return "error"
	case EventFailure:
		return "failure"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// TranscriptEvent is emitted by the Adapter while capture is active
type TranscriptEvent struct {
	Kind EventKind
	Text string
	Err  error
}

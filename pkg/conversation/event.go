package conversation

import (
	"time"

	"github.com/papercomputeco/coach/pkg/transcript"
)

// EventKind identifies a transcript mutation.
type EventKind int

const (
	// TurnAppended is emitted for new user and placeholder turns.
	TurnAppended EventKind = iota + 1

	// TurnUpdated is emitted when a fragment is folded into the placeholder.
	TurnUpdated

	// TurnFinalized is emitted when an exchange completes successfully.
	TurnFinalized

	// TurnFailed is emitted when the placeholder is replaced by the fallback
	// message. Event.Err holds the cause.
	TurnFailed
)

func (k EventKind) String() string {
	switch k {
	case TurnAppended:
		return "turn_appended"
	case TurnUpdated:
		return "turn_updated"
	case TurnFinalized:
		return "turn_finalized"
	case TurnFailed:
		return "turn_failed"
	default:
		return "unknown"
	}
}

// Event describes one transcript mutation. Turn is the stored value after the
// mutation and must not be modified.
type Event struct {
	Kind EventKind
	Turn *transcript.Turn

	// Fragment is the text folded in by a TurnUpdated event.
	Fragment string

	Err error
}

// Exchange is a completed user/assistant pair.
type Exchange struct {
	// ThreadID is the thread the exchange belongs to, empty while Ephemeral.
	ThreadID    string
	User        transcript.Turn
	Assistant   transcript.Turn
	StartedAt   time.Time
	CompletedAt time.Time
}

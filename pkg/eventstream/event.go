// Package eventstream defines the transport-neutral events emitted when a
// conversation exchange completes, and the publishers that ship them.
package eventstream

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/coach/pkg/llm"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeExchangeCompleted is emitted after a user/assistant exchange
	// finishes successfully.
	EventTypeExchangeCompleted = "coach.exchange.completed"
)

// ExchangeCompletedEvent is the payload published for a finished exchange.
type ExchangeCompletedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	ThreadID      string       `json:"thread_id"`
	Source        EventSource  `json:"source"`
	Timing        ExchangeMeta `json:"timing"`
	User          ExchangeTurn `json:"user"`
	Assistant     ExchangeTurn `json:"assistant"`
}

// EventSource identifies where the exchange originated.
type EventSource struct {
	Client   string `json:"client"`
	Provider string `json:"provider,omitempty"`
}

// ExchangeMeta captures exchange timing.
type ExchangeMeta struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// ExchangeTurn is one side of the exchange.
type ExchangeTurn struct {
	ID      string   `json:"id"`
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// NewEventID returns a lexically sortable event id for t.
func NewEventID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

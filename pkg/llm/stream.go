package llm

// Stream event types emitted by the coach completion service.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

package llm

// DeltaPayload is the data of a "delta" stream event.
type DeltaPayload struct {
	Text string `json:"text"`
}

// DonePayload is the data of a "done" stream event.
type DonePayload struct {
	// ThreadID is the (possibly newly assigned) conversation id.
	ThreadID string `json:"thread_id,omitempty"`
}

// ErrorResponse is the JSON error body shared by the stream and transcript APIs.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse is the body of GET /threads/:id/messages.
type HistoryResponse struct {
	ThreadID string           `json:"thread_id"`
	Messages []HistoryMessage `json:"messages"`
}

// HistoryMessage is a stored turn as returned by the transcript API.
type HistoryMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

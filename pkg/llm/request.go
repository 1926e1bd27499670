package llm

// ChatRequest is the body posted to the coach completion service.
type ChatRequest struct {
	// ThreadID is the server-assigned conversation id, omitted for new conversations.
	ThreadID string `json:"thread_id,omitempty"`

	// Messages is the full ordered history up to and including the newest user turn.
	Messages []Message `json:"messages"`

	// Model optionally selects the model on services that host several.
	Model string `json:"model,omitempty"`
}

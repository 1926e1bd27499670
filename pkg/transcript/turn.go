// Package transcript holds the ordered, append-only sequence of turns that
// make up a conversation.
package transcript

import (
	"github.com/papercomputeco/coach/pkg/llm"
)

// Turn is one conversational entry. Turns are immutable once stored: the Store
// replaces a turn with a fresh value on every update, so a *Turn obtained from
// a snapshot must never be modified.
type Turn struct {
	// ID is assigned client-side when the turn is created.
	ID string

	Role llm.Role

	// Text is the accumulated content. It only changes while Streaming is true.
	Text string

	// Streaming is true from placeholder creation until the terminal event.
	Streaming bool

	// Synthetic marks turns created locally rather than by a user or the
	// remote service, e.g. the fallback greeting.
	Synthetic bool
}

// Message converts the turn to its wire form.
func (t *Turn) Message() llm.Message {
	return llm.NewTextMessage(t.Role, t.Text)
}

// Patch describes a partial update to a turn. Nil fields are left unchanged.
type Patch struct {
	Text      *string
	Streaming *bool
}

// SetText returns a patch that replaces the text.
func SetText(text string) Patch {
	return Patch{Text: &text}
}

// Finalize returns a patch that ends streaming, optionally replacing the text.
func Finalize(text *string) Patch {
	done := false
	return Patch{Text: text, Streaming: &done}
}

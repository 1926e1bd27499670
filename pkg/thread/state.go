// Package thread tracks whether a conversation has been bound to a
// server-assigned thread identifier.
package thread

// State is either Ephemeral or Bound.
type State interface {
	// ThreadID returns the bound id and true, or "" and false when ephemeral.
	ThreadID() (string, bool)
	String() string

	isState()
}

// Ephemeral is the state of a conversation not yet known to the remote service.
type Ephemeral struct{}

func (Ephemeral) ThreadID() (string, bool) { return "", false }
func (Ephemeral) String() string           { return "ephemeral" }
func (Ephemeral) isState()                 {}

// Bound is the state of a conversation with a server-assigned id.
type Bound struct {
	ID string
}

func (b Bound) ThreadID() (string, bool) { return b.ID, true }
func (b Bound) String() string           { return "bound(" + b.ID + ")" }
func (Bound) isState()                   {}

// FromID returns Bound{id} for a non-empty id and Ephemeral otherwise.
func FromID(id string) State {
	if id == "" {
		return Ephemeral{}
	}
	return Bound{ID: id}
}

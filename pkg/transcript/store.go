package transcript

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyID is returned when appending a turn without an id.
	ErrEmptyID = errors.New("turn id is empty")

	// ErrDuplicateID is returned when appending a turn whose id is already stored.
	ErrDuplicateID = errors.New("duplicate turn id")

	// ErrStreamingInFlight is returned when appending a streaming turn while
	// another turn is still streaming.
	ErrStreamingInFlight = errors.New("another turn is already streaming")

	// ErrTurnFinalized is returned when changing the text of a finalized turn.
	ErrTurnFinalized = errors.New("turn is finalized")
)

// NotFoundError is returned when no turn has the requested id.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return "turn not found: " + e.ID
}

// Store is the ordered turn sequence of a single conversation.
// Store is not safe for concurrent use; its owner serializes access.
type Store struct {
	turns []*Turn

	// index maps turn id to its position in turns
	index map[string]int

	// streaming is the position of the streaming turn, or -1
	streaming int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		index:     make(map[string]int),
		streaming: -1,
	}
}

// Append adds turn at the end of the sequence and returns the stored value.
func (s *Store) Append(turn Turn) (*Turn, error) {
	if turn.ID == "" {
		return nil, ErrEmptyID
	}
	if _, ok := s.index[turn.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, turn.ID)
	}
	if turn.Streaming && s.streaming >= 0 {
		return nil, ErrStreamingInFlight
	}

	stored := &turn
	s.index[turn.ID] = len(s.turns)
	if turn.Streaming {
		s.streaming = len(s.turns)
	}
	s.turns = append(s.turns, stored)

	return stored, nil
}

// Update replaces the turn with the given id by a patched copy. Every other
// turn keeps its pointer, so consumers can compare snapshots by identity.
func (s *Store) Update(id string, patch Patch) (*Turn, error) {
	pos, ok := s.index[id]
	if !ok {
		return nil, NotFoundError{ID: id}
	}

	current := s.turns[pos]
	if !current.Streaming {
		if patch.Text != nil && *patch.Text != current.Text {
			return nil, fmt.Errorf("%w: %s", ErrTurnFinalized, id)
		}
		if patch.Streaming != nil && *patch.Streaming {
			return nil, fmt.Errorf("%w: %s", ErrTurnFinalized, id)
		}
	}

	next := *current
	if patch.Text != nil {
		next.Text = *patch.Text
	}
	if patch.Streaming != nil {
		next.Streaming = *patch.Streaming
	}

	s.turns[pos] = &next
	if current.Streaming && !next.Streaming {
		s.streaming = -1
	}

	return &next, nil
}

// Get returns the turn with the given id.
func (s *Store) Get(id string) (*Turn, bool) {
	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.turns[pos], true
}

// Streaming returns the turn currently streaming, if any.
func (s *Store) Streaming() (*Turn, bool) {
	if s.streaming < 0 {
		return nil, false
	}
	return s.turns[s.streaming], true
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	return len(s.turns)
}

// Snapshot returns the turns in conversational order. The returned slice is a
// copy; the turns it points to are shared and immutable.
func (s *Store) Snapshot() []*Turn {
	out := make([]*Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

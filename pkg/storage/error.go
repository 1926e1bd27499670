package storage

import "errors"

// ErrInvalidRecord is returned when a record is missing its id or thread id.
var ErrInvalidRecord = errors.New("invalid record")

// NotFoundError is returned when a thread doesn't exist in the store.
type NotFoundError struct {
	ThreadID string
}

func (e NotFoundError) Error() string {
	if e.ThreadID == "" {
		return "thread not found"
	}

	return "thread not found: " + e.ThreadID
}

// Validate checks the fields every driver requires.
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("empty id"))
	}
	if r.ThreadID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("empty thread id"))
	}
	if !r.Role.Valid() {
		return errors.Join(ErrInvalidRecord, errors.New("unknown role "+string(r.Role)))
	}
	return nil
}

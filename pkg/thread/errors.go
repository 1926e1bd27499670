package thread

import "errors"

// ErrIdentityConflict indicates a thread id different from the bound one was
// received. It points at a protocol or server bug.
var ErrIdentityConflict = errors.New("thread identity conflict")

// IdentityConflictError carries both ids of a rejected rebinding.
type IdentityConflictError struct {
	Bound    string
	Received string
}

func (e *IdentityConflictError) Error() string {
	return "thread identity conflict: bound to " + e.Bound + ", received " + e.Received
}

func (e *IdentityConflictError) Unwrap() error {
	return ErrIdentityConflict
}

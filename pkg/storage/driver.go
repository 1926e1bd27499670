// Package storage persists conversation transcripts keyed by thread id.
package storage

import (
	"context"
	"time"

	"github.com/papercomputeco/coach/pkg/llm"
)

// Record is one persisted turn of a thread.
type Record struct {
	// ID is the client-assigned turn id. Appending an existing id is a no-op.
	ID        string
	ThreadID  string
	Role      llm.Role
	Content   string
	CreatedAt time.Time
}

// Message converts the record to its wire form.
func (r *Record) Message() llm.Message {
	return llm.NewTextMessage(r.Role, r.Content)
}

// ThreadSummary describes a stored thread.
type ThreadSummary struct {
	ID           string
	MessageCount int
	UpdatedAt    time.Time
}

// Driver defines the interface for persisting and retrieving transcripts in a
// storage backend.
type Driver interface {
	// Append stores records in order. Records whose id already exists are
	// skipped, so replaying an exchange is safe.
	Append(ctx context.Context, records ...Record) error

	// List returns the records of a thread in insertion order. It returns a
	// NotFoundError when the thread has no records.
	List(ctx context.Context, threadID string) ([]Record, error)

	// Threads returns all threads, most recently updated first.
	Threads(ctx context.Context) ([]ThreadSummary, error)

	// Close closes the store and releases any resources.
	Close() error
}

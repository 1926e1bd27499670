// Package inmemory provides a map-backed storage driver for tests and
// ephemeral servers.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/papercomputeco/coach/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu guards threads and ids
	mu sync.RWMutex

	// threads maps a thread id to its records in insertion order
	threads map[string][]storage.Record

	// ids is the set of every stored record id
	ids map[string]struct{}
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		threads: make(map[string][]storage.Record),
		ids:     make(map[string]struct{}),
	}
}

// Append stores records, skipping ids that already exist.
func (d *Driver) Append(_ context.Context, records ...storage.Record) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rec := range records {
		if _, ok := d.ids[rec.ID]; ok {
			continue
		}
		d.ids[rec.ID] = struct{}{}
		d.threads[rec.ThreadID] = append(d.threads[rec.ThreadID], rec)
	}
	return nil
}

// List returns a copy of the thread's records.
func (d *Driver) List(_ context.Context, threadID string) ([]storage.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	records, ok := d.threads[threadID]
	if !ok {
		return nil, storage.NotFoundError{ThreadID: threadID}
	}

	out := make([]storage.Record, len(records))
	copy(out, records)
	return out, nil
}

// Threads returns every thread, most recently updated first.
func (d *Driver) Threads(_ context.Context) ([]storage.ThreadSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]storage.ThreadSummary, 0, len(d.threads))
	for id, records := range d.threads {
		out = append(out, storage.ThreadSummary{
			ID:           id,
			MessageCount: len(records),
			UpdatedAt:    records[len(records)-1].CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

var _ storage.Driver = (*Driver)(nil)

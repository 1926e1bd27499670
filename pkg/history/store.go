package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/storage"
)

// StoreLoader loads history from a local storage driver.
type StoreLoader struct {
	driver storage.Driver
}

// NewStoreLoader creates a loader backed by driver.
func NewStoreLoader(driver storage.Driver) *StoreLoader {
	return &StoreLoader{driver: driver}
}

// Load implements Loader.
func (l *StoreLoader) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	records, err := l.driver.List(ctx, threadID)
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil, fmt.Errorf("listing thread: %w", err)
	}

	messages := make([]llm.Message, 0, len(records))
	for i := range records {
		messages = append(messages, records[i].Message())
	}
	return messages, nil
}

// Package history fetches the prior turns of a known thread.
package history

import (
	"context"
	"errors"

	"github.com/papercomputeco/coach/pkg/llm"
)

// ErrThreadNotFound is returned when the transcript service has no such thread.
var ErrThreadNotFound = errors.New("thread not found")

// Loader fetches a thread's prior messages in order. Messages may include
// system turns; callers filter them before display.
type Loader interface {
	Load(ctx context.Context, threadID string) ([]llm.Message, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, threadID string) ([]llm.Message, error)

func (f LoaderFunc) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	return f(ctx, threadID)
}

package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/coach/pkg/llm"
)

// MockLoader is a history loader returning canned messages.
type MockLoader struct {
	mu sync.Mutex

	// Messages is returned for any thread id.
	Messages []llm.Message

	// Err, when set, is returned instead of Messages.
	Err error

	// Requested records every thread id asked for.
	Requested []string
}

// Load implements history.Loader.
func (m *MockLoader) Load(_ context.Context, threadID string) ([]llm.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requested = append(m.Requested, threadID)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]llm.Message, len(m.Messages))
	copy(out, m.Messages)
	return out, nil
}

package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/coach/pkg/eventstream"
)

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.ExchangeCompletedEvent

	// Err, when set, is returned from PublishExchange.
	Err error

	closed bool
}

// PublishExchange implements eventstream.Publisher.
func (p *MockPublisher) PublishExchange(_ context.Context, event *eventstream.ExchangeCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	if p.Err != nil {
		return p.Err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *MockPublisher) Events() []*eventstream.ExchangeCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*eventstream.ExchangeCompletedEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Close implements eventstream.Publisher.
func (p *MockPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *MockPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

package conversation

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/history"
	"github.com/papercomputeco/coach/pkg/metrics"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/thread"
)

const (
	// DefaultFallbackMessage replaces the reply of a failed exchange.
	DefaultFallbackMessage = "I'm sorry, I encountered an error. Please try again."

	// DefaultGreeting is shown when a conversation's history cannot be loaded.
	DefaultGreeting = "Hi! I'm your coach. What would you like to work on today?"

	// DefaultSilenceTimeout is the recommended bound on time between fragments.
	DefaultSilenceTimeout = 60 * time.Second
)

// Config configures a Controller.
type Config struct {
	// Client streams completions. Required.
	Client stream.Client

	// Threads tracks the conversation's thread identity. A new manager is
	// created when nil.
	Threads *thread.Manager

	// History loads prior turns in Open. Required by Open only.
	History history.Loader

	// SilenceTimeout abandons an exchange when no fragment arrives for this
	// long. Zero disables it.
	SilenceTimeout time.Duration

	// FallbackMessage replaces the reply of a failed exchange.
	FallbackMessage string

	// Greeting is the synthetic assistant turn used when history cannot be loaded.
	Greeting string

	// OnExchange is called after every successful exchange, from the goroutine
	// that completed it. It must not block.
	OnExchange func(Exchange)

	// NewID generates turn ids. Defaults to random UUIDs.
	NewID func() string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FallbackMessage == "" {
		out.FallbackMessage = DefaultFallbackMessage
	}
	if out.Greeting == "" {
		out.Greeting = DefaultGreeting
	}
	if out.NewID == nil {
		out.NewID = uuid.NewString
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Threads == nil {
		out.Threads = thread.NewManager(thread.Ephemeral{})
	}
	return out
}

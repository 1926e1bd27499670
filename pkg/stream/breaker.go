package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailures uint32        = 5
	defaultBreakerTimeout  time.Duration = 30 * time.Second
	defaultBreakerInterval time.Duration = 60 * time.Second
)

// BreakerConfig configures a Breaker. Zero values select defaults.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration

	// Interval is the period after which failure counts reset while closed.
	Interval time.Duration

	Logger *zap.Logger
}

// Breaker wraps a Client with a circuit breaker so a failing completion
// service is not hammered by every send. Calls cancelled by their caller do not
// count as failures, unless the cancellation cause is ErrIdle.
type Breaker struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[*Result]
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner Client, cfg BreakerConfig) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}
	name := cfg.Name
	if name == "" {
		name = "completion"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (errors.Is(err, context.Canceled) && !errors.Is(err, ErrIdle))
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

// Stream implements Client.
func (b *Breaker) Stream(ctx context.Context, req *Request, onFragment FragmentFunc) (*Result, error) {
	res, err := b.breaker.Execute(func() (*Result, error) {
		res, err := b.inner.Stream(ctx, req, onFragment)
		if errors.Is(err, context.Canceled) && errors.Is(context.Cause(ctx), ErrIdle) {
			return nil, fmt.Errorf("%w: %w", ErrIdle, err)
		}
		return res, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return res, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

var _ Client = (*Breaker)(nil)

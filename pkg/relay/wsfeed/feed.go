// Package wsfeed reads side-channel events from the coach events websocket
// and routes them into a relay.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/papercomputeco/coach/pkg/relay"
)

// Router receives decoded events. *relay.Relay satisfies it.
type Router interface {
	Route(ev relay.Event) bool
}

// Feed maintains a websocket connection to the events endpoint for a single
// thread, reconnecting until its context ends.
type Feed struct {
	endpoint string
	router   Router
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Option configures a Feed.
type Option func(*Feed)

// WithReconnectInterval sets the minimum time between connection attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(f *Feed) { f.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

// New creates a feed for threadID on the events endpoint at target, e.g.
// "ws://localhost:8083/v1/events".
func New(target, threadID string, router Router, opts ...Option) (*Feed, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing events target: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported events target scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("thread_id", threadID)
	u.RawQuery = q.Encode()

	f := &Feed{
		endpoint: u.String(),
		router:   router,
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Endpoint returns the resolved websocket URL.
func (f *Feed) Endpoint() string {
	return f.endpoint
}

// Run connects and routes events until ctx is done, then returns ctx.Err().
// Connection failures are logged and retried at the configured pace.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("waiting to reconnect: %w", err)
		}

		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Debug("events feed disconnected", zap.String("endpoint", f.endpoint), zap.Error(err))
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing events feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	f.logger.Debug("events feed connected", zap.String("endpoint", f.endpoint))

	for {
		var ev relay.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}

		if !f.router.Route(ev) {
			f.logger.Debug("ignoring side-channel event",
				zap.String("id", ev.ID),
				zap.String("kind", ev.Kind),
			)
		}
	}
}

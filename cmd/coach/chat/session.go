package chatcmder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/cliui"
	"github.com/papercomputeco/coach/pkg/conversation"
	"github.com/papercomputeco/coach/pkg/deeplink"
	"github.com/papercomputeco/coach/pkg/relay/wsfeed"
	"github.com/papercomputeco/coach/pkg/thread"
	"github.com/papercomputeco/coach/pkg/worker"
)

// session is one conversation together with the listeners and feeds hung off
// its thread.
type session struct {
	ctrl    *conversation.Controller
	threads *thread.Manager

	cancel context.CancelFunc
	detach []func()
}

// close supersedes any in-flight exchange and stops the events feed.
func (s *session) close() {
	if s.ctrl != nil {
		s.ctrl.Close()
	}
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
	s.cancel()
}

// open starts a conversation, hydrated from threadID's history when one is
// given.
func (c *chatCommander) open(ctx context.Context, threadID string) (*session, error) {
	feedCtx, cancel := context.WithCancel(ctx)
	s := &session{
		threads: thread.NewManager(nil),
		cancel:  cancel,
	}

	recorder := deeplink.NewRecorder(c.dirs, c.configDir,
		deeplink.WithBuilder(c.links),
		deeplink.WithReporter(func(id, _ string) {
			c.onBound(feedCtx, id)
		}),
		deeplink.WithLogger(c.logger),
	)
	s.detach = append(s.detach, recorder.Attach(s.threads))

	cfg := conversation.Config{
		Client:         c.client,
		Threads:        s.threads,
		History:        c.history,
		SilenceTimeout: c.silence,
		OnExchange:     c.onExchange,
		Logger:         c.logger,
	}

	var (
		ctrl *conversation.Controller
		err  error
	)
	if threadID == "" {
		ctrl, err = conversation.New(cfg)
	} else {
		err = cliui.Step(c.out, "Loading conversation", func() error {
			var oerr error
			ctrl, oerr = conversation.Open(ctx, cfg, threadID)
			return oerr
		})
	}
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opening conversation: %w", err)
	}

	s.ctrl = ctrl
	s.detach = append(s.detach, ctrl.Subscribe(c.printEvent))

	if threadID != "" {
		c.printResumed(ctrl)
	}
	return s, nil
}

// onBound runs once per conversation, when the coach assigns its thread.
func (c *chatCommander) onBound(ctx context.Context, threadID string) {
	c.logger.Debug("conversation bound", zap.String("thread_id", threadID))

	if c.eventsTarget == "" {
		return
	}

	feed, err := wsfeed.New(c.eventsTarget, threadID, c.relay, wsfeed.WithLogger(c.logger))
	if err != nil {
		c.logger.Warn("events feed disabled", zap.String("target", c.eventsTarget), zap.Error(err))
		return
	}

	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("events feed stopped", zap.String("endpoint", feed.Endpoint()), zap.Error(err))
		}
	}()
}

func (c *chatCommander) onExchange(ex conversation.Exchange) {
	if c.pool == nil {
		return
	}
	c.pool.Enqueue(worker.ExchangeJob(ex, c.provider))
}

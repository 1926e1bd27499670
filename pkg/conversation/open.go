package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/history"
	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/transcript"
)

// ErrNoHistory is returned by Open when Config.History is nil.
var ErrNoHistory = errors.New("conversation requires a history loader to open a thread")

// Open creates a conversation hydrated from the history of threadID, with
// system turns removed. An empty threadID behaves like New.
//
// A failed load never fails Open: the transcript instead holds a single
// synthetic greeting and HistoryErr reports the cause. The conversation stays
// bound to threadID unless the thread is unknown, in which case it starts
// Ephemeral. Open only returns an error for an invalid Config or when
// Config.Threads is already bound to a different thread.
func Open(ctx context.Context, cfg Config, threadID string) (*Controller, error) {
	if cfg.Client == nil {
		return nil, ErrNoClient
	}
	if threadID != "" && cfg.History == nil {
		return nil, ErrNoHistory
	}

	c := newController(cfg.withDefaults())
	if threadID == "" {
		return c, nil
	}
	if err := c.threads.Check(threadID); err != nil {
		return nil, err
	}

	msgs, err := cfg.History.Load(ctx, threadID)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHistoryLoad, err)
		c.logger.Warn("could not load conversation history, starting with greeting",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)

		if !errors.Is(err, history.ErrThreadNotFound) {
			if _, aerr := c.threads.Adopt(threadID); aerr != nil {
				return nil, aerr
			}
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.historyErr = err
		if _, aerr := c.store.Append(transcript.Turn{
			ID:        c.newID(),
			Role:      llm.RoleAssistant,
			Text:      c.greeting,
			Synthetic: true,
		}); aerr != nil {
			return nil, fmt.Errorf("appending greeting: %w", aerr)
		}
		return c, nil
	}

	if _, err := c.threads.Adopt(threadID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range llm.WithoutSystem(msgs) {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			c.logger.Debug("skipping history message with unknown role", zap.String("role", string(m.Role)))
			continue
		}
		if _, err := c.store.Append(transcript.Turn{ID: c.newID(), Role: m.Role, Text: m.Content}); err != nil {
			return nil, fmt.Errorf("appending history turn: %w", err)
		}
	}

	c.logger.Debug("conversation history loaded",
		zap.String("thread_id", threadID),
		zap.Int("turns", c.store.Len()),
	)
	return c, nil
}

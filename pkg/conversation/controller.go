// Package conversation drives a single conversation: it turns user input into
// a streamed assistant reply, folds fragments into the transcript, and settles
// every exchange to either a finalized reply or the fallback message.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/metrics"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/thread"
	"github.com/papercomputeco/coach/pkg/transcript"
)

type observer struct {
	id uint64
	fn func(Event)
}

// call is one outstanding stream invocation. A call may only mutate the
// transcript while it is the controller's active call.
type call struct {
	gen           uint64
	ctx           context.Context
	cancel        context.CancelCauseFunc
	userID        string
	placeholderID string
	startedAt     time.Time
	lastActivity  time.Time
	timer         *time.Timer

	// settled is closed once the call's terminal event has been applied and
	// observed, or the call was superseded.
	settled chan struct{}
}

// Controller owns the transcript of one conversation. It is safe for
// concurrent use. Observers registered with Subscribe run synchronously, in
// mutation order, and may read the controller but must not call Send,
// SendDraft or Close.
type Controller struct {
	client     stream.Client
	threads    *thread.Manager
	logger     *zap.Logger
	metrics    *metrics.Metrics
	fallback   string
	greeting   string
	silence    time.Duration
	onExchange func(Exchange)
	newID      func() string

	// seq serializes each mutation with the delivery of its event.
	seq sync.Mutex

	// mu guards the fields below.
	mu           sync.Mutex
	store        *transcript.Store
	draft        string
	active       *call
	last         *call
	generation   uint64
	closed       bool
	historyErr   error
	observers    []observer
	nextObserver uint64
}

// New creates an empty conversation.
func New(cfg Config) (*Controller, error) {
	if cfg.Client == nil {
		return nil, ErrNoClient
	}
	return newController(cfg.withDefaults()), nil
}

func newController(cfg Config) *Controller {
	return &Controller{
		client:     cfg.Client,
		threads:    cfg.Threads,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		fallback:   cfg.FallbackMessage,
		greeting:   cfg.Greeting,
		silence:    cfg.SilenceTimeout,
		onExchange: cfg.OnExchange,
		newID:      cfg.NewID,
		store:      transcript.NewStore(),
	}
}

// Send sends text as a new user turn. The draft is left untouched.
func (c *Controller) Send(text string) error {
	return c.send(text, false)
}

// SendDraft sends the current draft and clears it.
func (c *Controller) SendDraft() error {
	return c.send("", true)
}

func (c *Controller) send(explicit string, fromDraft bool) error {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	text := explicit
	if fromDraft {
		text = c.draft
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyInput
	}
	if c.active != nil {
		c.mu.Unlock()
		return ErrAlreadyPending
	}

	userID, placeholderID := c.newID(), c.newID()
	if err := c.checkIDsLocked(userID, placeholderID); err != nil {
		c.mu.Unlock()
		return err
	}

	user, err := c.store.Append(transcript.Turn{ID: userID, Role: llm.RoleUser, Text: text})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("appending user turn: %w", err)
	}
	placeholder, err := c.store.Append(transcript.Turn{ID: placeholderID, Role: llm.RoleAssistant, Streaming: true})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("appending placeholder turn: %w", err)
	}
	if fromDraft {
		c.draft = ""
	}

	req := &stream.Request{Messages: c.outboundLocked(placeholder.ID)}
	req.ThreadID, _ = c.threads.ThreadID()

	c.generation++
	ctx, cancel := context.WithCancelCause(context.Background())
	now := time.Now()
	cl := &call{
		gen:           c.generation,
		ctx:           ctx,
		cancel:        cancel,
		userID:        user.ID,
		placeholderID: placeholder.ID,
		startedAt:     now,
		lastActivity:  now,
		settled:       make(chan struct{}),
	}
	if c.silence > 0 {
		cl.timer = time.AfterFunc(c.silence, func() { c.checkSilence(cl) })
	}
	c.active = cl
	c.last = cl
	observers := c.observersLocked()
	c.mu.Unlock()

	notify(observers, Event{Kind: TurnAppended, Turn: user})
	notify(observers, Event{Kind: TurnAppended, Turn: placeholder})

	c.logger.Debug("exchange started",
		zap.Uint64("call", cl.gen),
		zap.String("thread_id", req.ThreadID),
		zap.Int("message_count", len(req.Messages)),
	)

	go c.run(cl, req)
	return nil
}

// checkIDsLocked rejects turn ids that would make either append of an
// exchange fail, so a rejected send leaves the transcript untouched.
func (c *Controller) checkIDsLocked(ids ...string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("appending turn: %w", transcript.ErrEmptyID)
		}
		if _, ok := c.store.Get(id); ok || seen[id] {
			return fmt.Errorf("appending turn: %w: %s", transcript.ErrDuplicateID, id)
		}
		seen[id] = true
	}
	if _, ok := c.store.Streaming(); ok {
		return fmt.Errorf("appending turn: %w", transcript.ErrStreamingInFlight)
	}
	return nil
}

// outboundLocked builds the history sent with a request: every turn except
// system turns, synthetic turns and the in-flight placeholder.
func (c *Controller) outboundLocked(placeholderID string) []llm.Message {
	turns := c.store.Snapshot()
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if t.ID == placeholderID || t.Role == llm.RoleSystem || t.Synthetic {
			continue
		}
		msgs = append(msgs, t.Message())
	}
	return msgs
}

func (c *Controller) run(cl *call, req *stream.Request) {
	res, err := c.client.Stream(cl.ctx, req, func(fragment string) {
		c.applyFragment(cl, fragment)
	})
	if err == nil && res == nil {
		res = &stream.Result{}
	}
	c.settle(cl, res, err)
}

func (c *Controller) applyFragment(cl *call, fragment string) {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	if c.active != cl {
		c.mu.Unlock()
		c.dropStale(cl, "fragment")
		return
	}

	cl.lastActivity = time.Now()
	if cl.timer != nil {
		cl.timer.Reset(c.silence)
	}

	if fragment == "" {
		c.mu.Unlock()
		return
	}

	current, ok := c.store.Get(cl.placeholderID)
	if !ok {
		c.mu.Unlock()
		c.logger.Error("placeholder turn missing", zap.String("turn_id", cl.placeholderID))
		return
	}
	turn, err := c.store.Update(cl.placeholderID, transcript.SetText(current.Text+fragment))
	observers := c.observersLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("applying fragment", zap.String("turn_id", cl.placeholderID), zap.Error(err))
		return
	}

	c.metrics.FragmentApplied()
	notify(observers, Event{Kind: TurnUpdated, Turn: turn, Fragment: fragment})
}

// checkSilence runs when the call's silence timer fires.
func (c *Controller) checkSilence(cl *call) {
	c.mu.Lock()
	if c.active != cl {
		c.mu.Unlock()
		return
	}
	// A fragment may have re-armed the timer while this callback was pending.
	if idle := time.Since(cl.lastActivity); idle < c.silence {
		cl.timer.Reset(c.silence - idle)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.settle(cl, nil, ErrTimeout)
}

// settle applies the terminal event of cl: a finalized reply on success, the
// fallback message on failure, timeout or identity conflict.
func (c *Controller) settle(cl *call, res *stream.Result, cause error) {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	if c.active != cl {
		c.mu.Unlock()
		c.dropStale(cl, "terminal")
		return
	}

	outcome := metrics.OutcomeSuccess
	var bindTo string
	var cancelCause error
	switch {
	case errors.Is(cause, ErrTimeout):
		outcome = metrics.OutcomeTimeout
		cancelCause = stream.ErrIdle
	case cause != nil:
		outcome = metrics.OutcomeFailure
	case res.ThreadID != "":
		if err := c.threads.Check(res.ThreadID); err != nil {
			cause = err
			outcome = metrics.OutcomeConflict
		} else {
			bindTo = res.ThreadID
		}
	}

	patch := transcript.Finalize(nil)
	if cause != nil {
		text := c.fallback
		patch = transcript.Finalize(&text)
	}
	turn, err := c.store.Update(cl.placeholderID, patch)
	user, _ := c.store.Get(cl.userID)
	c.finishLocked(cl, cancelCause)
	observers := c.observersLocked()
	c.mu.Unlock()
	defer close(cl.settled)

	completedAt := time.Now()
	c.metrics.ObserveExchange(outcome, completedAt.Sub(cl.startedAt))

	if err != nil {
		c.logger.Error("finalizing reply", zap.String("turn_id", cl.placeholderID), zap.Error(err))
		return
	}

	if cause != nil {
		c.reportFailure(cl, outcome, cause)
		if outcome != metrics.OutcomeConflict {
			cause = fmt.Errorf("%w: %w", ErrStreamFailure, cause)
		}
		notify(observers, Event{Kind: TurnFailed, Turn: turn, Err: cause})
		return
	}

	if bindTo != "" {
		changed, err := c.threads.Adopt(bindTo)
		switch {
		case err != nil:
			c.logger.Error("adopting thread id", zap.String("thread_id", bindTo), zap.Error(err))
		case changed:
			c.metrics.ThreadBound()
			c.logger.Info("conversation bound to thread", zap.String("thread_id", bindTo))
		}
	}

	notify(observers, Event{Kind: TurnFinalized, Turn: turn})

	c.logger.Debug("exchange completed",
		zap.Uint64("call", cl.gen),
		zap.Duration("elapsed", completedAt.Sub(cl.startedAt)),
		zap.Int("reply_length", len(turn.Text)),
	)

	if c.onExchange != nil && user != nil {
		threadID, _ := c.threads.ThreadID()
		c.onExchange(Exchange{
			ThreadID:    threadID,
			User:        *user,
			Assistant:   *turn,
			StartedAt:   cl.startedAt,
			CompletedAt: completedAt,
		})
	}
}

func (c *Controller) reportFailure(cl *call, outcome string, cause error) {
	fields := []zap.Field{
		zap.Uint64("call", cl.gen),
		zap.String("turn_id", cl.placeholderID),
		zap.Error(cause),
	}

	switch outcome {
	case metrics.OutcomeConflict:
		c.logger.Error("thread identity conflict, reply discarded", fields...)
	case metrics.OutcomeTimeout:
		c.logger.Warn("exchange timed out", append(fields, zap.Duration("silence", c.silence))...)
	default:
		c.logger.Warn("exchange failed", fields...)
	}
}

// finishLocked supersedes cl: it is no longer active and its stream is
// cancelled with cause, or context.Canceled when cause is nil.
func (c *Controller) finishLocked(cl *call, cause error) {
	if c.active == cl {
		c.active = nil
	}
	cl.cancel(cause)
	if cl.timer != nil {
		cl.timer.Stop()
	}
}

func (c *Controller) dropStale(cl *call, event string) {
	c.metrics.StaleEventDropped()
	c.logger.Debug("dropping event from superseded call",
		zap.Uint64("call", cl.gen),
		zap.String("event", event),
	)
}

// Close tears the conversation down. An in-flight exchange is superseded: its
// stream is cancelled and any of its late events are dropped. Send returns
// ErrClosed afterwards. The transcript remains readable.
func (c *Controller) Close() {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if cl := c.active; cl != nil {
		c.finishLocked(cl, nil)
		close(cl.settled)
		c.logger.Debug("exchange superseded by close", zap.Uint64("call", cl.gen))
	}
}

// Wait blocks until the most recent exchange has settled or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	cl := c.last
	c.mu.Unlock()

	if cl == nil {
		return nil
	}

	select {
	case <-cl.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for transcript events and returns a function that
// removes it.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, observer{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) observersLocked() []observer {
	out := make([]observer, len(c.observers))
	copy(out, c.observers)
	return out
}

func notify(observers []observer, ev Event) {
	for _, o := range observers {
		o.fn(ev)
	}
}

// SetDraft replaces the draft text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Draft returns the draft text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Pending reports whether an exchange is in flight.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Snapshot returns the turns in order. The turns must not be modified.
func (c *Controller) Snapshot() []*transcript.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// Thread returns the current thread state.
func (c *Controller) Thread() thread.State {
	return c.threads.State()
}

// Threads returns the thread manager, e.g. to subscribe to OnBound.
func (c *Controller) Threads() *thread.Manager {
	return c.threads
}

// HistoryErr returns the error that made Open fall back to the greeting, or nil.
func (c *Controller) HistoryErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyErr
}

// Package relay delivers out-of-band structured events, such as a proposed
// training plan change, to the presentation layer and tracks the user's
// accept or decline decision. It is independent of the reply text stream.
package relay

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/metrics"
)

// KindPlanProposal is the event kind routed to the relay by default.
const KindPlanProposal = "plan_proposal"

var (
	// ErrNoActiveProposal is returned by Resolve when nothing is active.
	ErrNoActiveProposal = errors.New("no active proposal")

	// ErrStaleProposal is returned by Resolve for an id that is not the
	// active proposal, typically one already replaced by a newer one.
	ErrStaleProposal = errors.New("proposal is no longer active")
)

// Event is a side-channel event: {id, kind, payload}.
type Event struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

func (e Event) clone() Event {
	e.Payload = maps.Clone(e.Payload)
	return e
}

// Decision is the user's answer to a proposal.
type Decision int

const (
	Accept Decision = iota + 1
	Decline
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Decline:
		return "decline"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Resolution records that a proposal was accepted or declined.
type Resolution struct {
	ID       string
	Decision Decision
}

// Update is delivered to subscribers. Exactly one field is set: Proposal when
// a proposal becomes active, Resolution when the active one is cleared.
type Update struct {
	Proposal   *Event
	Resolution *Resolution
}

type subscriber struct {
	id uint64
	fn func(Update)
}

// Relay holds at most one active proposal. A new proposal replaces the active
// one; proposals are never queued.
type Relay struct {
	kind    string
	logger  *zap.Logger
	metrics *metrics.Metrics

	// seq serializes state changes with their notifications.
	seq sync.Mutex

	mu          sync.Mutex
	active      *Event
	subscribers []subscriber
	nextID      uint64
}

// Option configures a Relay.
type Option func(*Relay)

// WithKind routes events of kind instead of KindPlanProposal.
func WithKind(kind string) Option {
	return func(r *Relay) { r.kind = kind }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics records proposal lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// New creates a Relay.
func New(opts ...Option) *Relay {
	r := &Relay{
		kind:   KindPlanProposal,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route delivers ev if its kind is routed to the relay, replacing any active
// proposal. It reports whether the event was taken.
func (r *Relay) Route(ev Event) bool {
	if ev.Kind != r.kind {
		return false
	}
	if ev.ID == "" {
		r.logger.Warn("dropping side-channel event without id", zap.String("kind", ev.Kind))
		return false
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	r.mu.Lock()
	replaced := r.active
	stored := ev.clone()
	r.active = &stored
	subs := r.subscribersLocked()
	r.mu.Unlock()

	if replaced != nil {
		r.metrics.Proposal(metrics.ProposalReplaced)
		r.logger.Debug("proposal replaced",
			zap.String("previous_id", replaced.ID),
			zap.String("proposal_id", ev.ID),
		)
	}
	r.metrics.Proposal(metrics.ProposalReceived)

	for _, s := range subs {
		proposal := stored.clone()
		s.fn(Update{Proposal: &proposal})
	}
	return true
}

// Active returns a copy of the active proposal.
func (r *Relay) Active() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return Event{}, false
	}
	return r.active.clone(), true
}

// Resolve records the decision for the active proposal id and clears it.
func (r *Relay) Resolve(id string, d Decision) error {
	if d != Accept && d != Decline {
		return fmt.Errorf("invalid decision %v", d)
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return ErrNoActiveProposal
	}
	if r.active.ID != id {
		active := r.active.ID
		r.mu.Unlock()
		return fmt.Errorf("%w: %s (active is %s)", ErrStaleProposal, id, active)
	}
	r.active = nil
	subs := r.subscribersLocked()
	r.mu.Unlock()

	if d == Accept {
		r.metrics.Proposal(metrics.ProposalAccepted)
	} else {
		r.metrics.Proposal(metrics.ProposalDeclined)
	}
	r.logger.Debug("proposal resolved", zap.String("proposal_id", id), zap.Stringer("decision", d))

	for _, s := range subs {
		s.fn(Update{Resolution: &Resolution{ID: id, Decision: d}})
	}
	return nil
}

// Subscribe registers fn for updates and returns a function that removes it.
// fn runs synchronously and must not call Route or Resolve.
func (r *Relay) Subscribe(fn func(Update)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.subscribers = append(r.subscribers, subscriber{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subscribers {
			if s.id == id {
				r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (r *Relay) subscribersLocked() []subscriber {
	out := make([]subscriber, len(r.subscribers))
	copy(out, r.subscribers)
	return out
}

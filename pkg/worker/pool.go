// Package worker provides an async worker pool for persisting completed
// exchanges and publishing them to the event stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/conversation"
	"github.com/papercomputeco/coach/pkg/eventstream"
	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/storage"
)

const (
	defaultNumWorkers     = 3
	defaultJobQueueSize   = 256
	defaultPublishTimeout = 10 * time.Second
)

// Turn is one side of a completed exchange.
type Turn struct {
	ID      string
	Content string
}

// Job is a completed exchange awaiting persistence and publishing.
type Job struct {
	// ThreadID is the server-assigned thread. Jobs without one are published
	// but never stored.
	ThreadID    string
	Provider    string
	User        Turn
	Assistant   Turn
	StartedAt   time.Time
	CompletedAt time.Time
}

// ExchangeJob converts a controller exchange into a Job.
func ExchangeJob(ex conversation.Exchange, provider string) Job {
	return Job{
		ThreadID:    ex.ThreadID,
		Provider:    provider,
		User:        Turn{ID: ex.User.ID, Content: ex.User.Text},
		Assistant:   Turn{ID: ex.Assistant.ID, Content: ex.Assistant.Text},
		StartedAt:   ex.StartedAt,
		CompletedAt: ex.CompletedAt,
	}
}

// Config is the worker pool configuration.
type Config struct {
	// Driver stores exchanges of bound threads. Optional.
	Driver storage.Driver

	// Publisher ships exchange events. Optional.
	Publisher eventstream.Publisher

	// Source names the client recorded on published events.
	Source string

	NumWorkers uint
	QueueSize  uint

	Logger *zap.Logger
}

// Pool processes completed exchanges asynchronously through a bounded queue.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a worker pool and starts its workers.
func NewPool(c *Config) (*Pool, error) {
	if c == nil {
		return nil, errors.New("worker config is required")
	}
	if c.Driver == nil && c.Publisher == nil {
		return nil, errors.New("worker pool needs a driver or a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > math.MaxInt || c.QueueSize > math.MaxInt {
		return nil, fmt.Errorf("worker pool sizing out of range: workers=%d queue=%d", c.NumWorkers, c.QueueSize)
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, int(c.QueueSize)),
		logger: logger,
	}

	for i := range int(c.NumWorkers) {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job without blocking. It returns false, dropping the job,
// when the queue is full.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("thread_id", job.ThreadID),
			zap.String("assistant_id", job.Assistant.ID),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("thread_id", job.ThreadID),
			zap.String("assistant_id", job.Assistant.ID),
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued jobs to finish.
// Enqueue must not be called after Close.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))
	for job := range p.queue {
		p.processJob(id, job)
	}
	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

func (p *Pool) processJob(workerID int, job Job) {
	ctx := context.Background()

	if p.config.Driver != nil && job.ThreadID != "" {
		if err := p.store(ctx, job); err != nil {
			p.logger.Error("failed to store exchange",
				zap.Int("worker_id", workerID),
				zap.String("thread_id", job.ThreadID),
				zap.Error(err),
			)
		} else {
			p.logger.Debug("exchange stored",
				zap.Int("worker_id", workerID),
				zap.String("thread_id", job.ThreadID),
			)
		}
	}

	if p.config.Publisher != nil {
		p.publish(ctx, workerID, job)
	}
}

func (p *Pool) store(ctx context.Context, job Job) error {
	completed := job.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	started := job.StartedAt
	if started.IsZero() {
		started = completed
	}

	return p.config.Driver.Append(ctx,
		storage.Record{
			ID:        job.User.ID,
			ThreadID:  job.ThreadID,
			Role:      llm.RoleUser,
			Content:   job.User.Content,
			CreatedAt: started,
		},
		storage.Record{
			ID:        job.Assistant.ID,
			ThreadID:  job.ThreadID,
			Role:      llm.RoleAssistant,
			Content:   job.Assistant.Content,
			CreatedAt: completed,
		},
	)
}

func (p *Pool) publish(ctx context.Context, workerID int, job Job) {
	event := newExchangeEvent(job, p.config.Source, time.Now().UTC())

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	if err := p.config.Publisher.PublishExchange(ctx, event); err != nil {
		p.logger.Warn("failed to publish exchange event",
			zap.Int("worker_id", workerID),
			zap.String("thread_id", job.ThreadID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("exchange event published",
		zap.Int("worker_id", workerID),
		zap.String("event_id", event.EventID),
	)
}

func newExchangeEvent(job Job, source string, now time.Time) *eventstream.ExchangeCompletedEvent {
	return &eventstream.ExchangeCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeExchangeCompleted,
		EventID:       eventstream.NewEventID(now),
		EmittedAt:     now,
		ThreadID:      job.ThreadID,
		Source: eventstream.EventSource{
			Client:   source,
			Provider: job.Provider,
		},
		Timing: eventstream.ExchangeMeta{
			StartedAt:   job.StartedAt,
			CompletedAt: job.CompletedAt,
			DurationMs:  job.CompletedAt.Sub(job.StartedAt).Milliseconds(),
		},
		User: eventstream.ExchangeTurn{
			ID:      job.User.ID,
			Role:    llm.RoleUser,
			Content: job.User.Content,
		},
		Assistant: eventstream.ExchangeTurn{
			ID:      job.Assistant.ID,
			Role:    llm.RoleAssistant,
			Content: job.Assistant.Content,
		},
	}
}

package api

import (
	"net"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/metrics"
	"github.com/papercomputeco/coach/pkg/storage"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/worker"
)

// Server is the coach API server.
type Server struct {
	config   Config
	storer   storage.Driver
	upstream stream.Client
	pool     *worker.Pool
	metrics  *metrics.Metrics
	newID    func() string
	logger   *zap.Logger
	app      *fiber.App

	// streams tracks completions still writing to a client.
	streams sync.WaitGroup
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithUpstream enables POST /v1/chat/stream backed by client.
func WithUpstream(client stream.Client) Option {
	return func(s *Server) { s.upstream = client }
}

// WithWorkerPool hands completed chat exchanges to pool for persistence.
func WithWorkerPool(pool *worker.Pool) Option {
	return func(s *Server) { s.pool = pool }
}

// WithMetrics records request metrics and serves them on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithIDGenerator overrides thread and turn id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// NewServer creates a new API server.
// The storer is injected to allow sharing with the worker pool.
func NewServer(config Config, storer storage.Driver, logger *zap.Logger, opts ...Option) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		storer: storer,
		newID:  uuid.NewString,
		logger: logger,
		app:    app,
	}
	for _, opt := range opts {
		opt(s)
	}

	app.Get("/ping", s.handlePing)
	app.Get("/threads", s.handleListThreads)
	app.Get("/threads/:id/messages", s.handleThreadMessages)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
	if s.upstream != nil {
		app.Post("/v1/chat/stream", s.handleChatStream)
	}

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
		zap.Bool("chat_stream", s.upstream != nil),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the API server on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting API server",
		zap.String("listen", ln.Addr().String()),
		zap.Bool("chat_stream", s.upstream != nil),
	)
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the API server and waits for in-flight
// completions, so their exchanges are enqueued before the worker pool closes.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	s.streams.Wait()
	return err
}

// Package servecmder provides the serve command, which runs the coach server:
// the transcript API and the chat stream endpoint backed by Ollama.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/coach/api"
	"github.com/papercomputeco/coach/pkg/config"
	"github.com/papercomputeco/coach/pkg/eventstream"
	"github.com/papercomputeco/coach/pkg/eventstream/kafka"
	"github.com/papercomputeco/coach/pkg/eventstream/nop"
	"github.com/papercomputeco/coach/pkg/logger"
	"github.com/papercomputeco/coach/pkg/metrics"
	"github.com/papercomputeco/coach/pkg/storage"
	"github.com/papercomputeco/coach/pkg/storage/inmemory"
	"github.com/papercomputeco/coach/pkg/storage/postgres"
	"github.com/papercomputeco/coach/pkg/storage/sqlite"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/stream/ollama"
	"github.com/papercomputeco/coach/pkg/worker"
)

type serveCommander struct {
	listen          string
	sqlitePath      string
	postgresDSN     string
	upstream        string
	model           string
	breakerFailures uint
	kafkaBrokers    string
	kafkaTopic      string
	logFile         string
	debug           bool

	logger *zap.Logger
}

const serveLongDesc string = `Run the coach server.

The server streams coach replies from an Ollama upstream at
POST /v1/chat/stream and records every completed exchange, which
"coach chat" reads back through the transcript API:

  GET /ping                     Health check
  GET /threads                  List threads
  GET /threads/:id/messages     Messages of a thread
  GET /metrics                  Prometheus metrics

Transcripts are kept in memory unless --sqlite or --postgres is given.
Exchange events are published to Kafka when --kafka-brokers is set.

Examples:
  coach serve
  coach serve --sqlite ./coach.db --model llama3.2
  coach serve --postgres postgres://coach@localhost/coach`

const serveShortDesc string = "Run the coach server"

var serveFlags = []string{
	config.FlagAPIListen,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagUpstream,
	config.FlagModel,
	config.FlagBreakerFailures,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

			cmder.listen = v.GetString("api.listen")
			cmder.sqlitePath = v.GetString("storage.sqlite_path")
			cmder.postgresDSN = v.GetString("storage.postgres_dsn")
			cmder.upstream = v.GetString("stream.upstream")
			cmder.model = v.GetString("stream.model")
			cmder.breakerFailures = v.GetUint("stream.breaker_failures")
			cmder.kafkaBrokers = v.GetString("events.kafka_brokers")
			cmder.kafkaTopic = v.GetString("events.kafka_topic")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddUintFlag(cmd, config.Flags, config.FlagBreakerFailures, &cmder.breakerFailures)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.kafkaTopic)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	var (
		closeLog func() error
		err      error
	)
	c.logger, closeLog, err = c.newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = c.logger.Sync()
		_ = closeLog()
	}()

	driver, err := c.newStorageDriver(ctx)
	if err != nil {
		return err
	}
	defer driver.Close()

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	pool, err := worker.NewPool(&worker.Config{
		Driver:    driver,
		Publisher: publisher,
		Source:    "coach-serve",
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	// Registered after the driver and publisher so queued jobs drain first.
	defer pool.Close()

	upstream := stream.NewBreaker(
		ollama.New(c.upstream,
			ollama.WithModel(c.model),
			ollama.WithSystemPrompt(ollama.CoachPrompt),
			ollama.WithLogger(c.logger),
		),
		stream.BreakerConfig{
			Name:        "ollama",
			MaxFailures: uint32(c.breakerFailures),
			Logger:      c.logger,
		},
	)

	server := api.NewServer(api.Config{
		ListenAddr: c.listen,
		Provider:   config.ProviderOllama,
	}, driver, c.logger,
		api.WithUpstream(upstream),
		api.WithWorkerPool(pool),
		api.WithMetrics(metrics.New()),
	)

	c.logger.Info("starting coach server",
		zap.String("listen", c.listen),
		zap.String("upstream", c.upstream),
		zap.String("model", c.model),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("coach server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
		if err := server.Shutdown(); err != nil {
			c.logger.Error("server shutdown", zap.Error(err))
		}
		return nil
	}
}

// newLogger logs to the console, and additionally as JSON to --log-file.
func (c *serveCommander) newLogger() (*zap.Logger, func() error, error) {
	console := logger.NewLogger(c.debug)
	if c.logFile == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(
		logger.WithDebug(c.debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	)
	return logger.Multi(console, file), f.Close, nil
}

func (c *serveCommander) newStorageDriver(ctx context.Context) (storage.Driver, error) {
	switch {
	case c.postgresDSN != "":
		driver, err := postgres.NewDriver(ctx, c.postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
		}
		c.logger.Info("using PostgreSQL storage")
		return driver, nil

	case c.sqlitePath != "":
		driver, err := sqlite.NewDriver(ctx, c.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", c.sqlitePath))
		return driver, nil

	default:
		c.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil
	}
}

func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	brokers := config.SplitList(c.kafkaBrokers)
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   c.kafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	c.logger.Info("publishing exchanges to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", c.kafkaTopic),
	)
	return publisher, nil
}

// Package chatcmder provides the chat command for talking to the coach from
// the terminal.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/coach/pkg/cliui"
	"github.com/papercomputeco/coach/pkg/config"
	"github.com/papercomputeco/coach/pkg/conversation"
	"github.com/papercomputeco/coach/pkg/deeplink"
	"github.com/papercomputeco/coach/pkg/dotdir"
	"github.com/papercomputeco/coach/pkg/eventstream"
	"github.com/papercomputeco/coach/pkg/eventstream/kafka"
	"github.com/papercomputeco/coach/pkg/history"
	"github.com/papercomputeco/coach/pkg/logger"
	"github.com/papercomputeco/coach/pkg/relay"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/stream/ollama"
	ssestream "github.com/papercomputeco/coach/pkg/stream/sse"
	"github.com/papercomputeco/coach/pkg/worker"
)

type chatCommander struct {
	configDir string
	threadID  string
	fresh     bool
	debug     bool

	provider        string
	serviceTarget   string
	apiTarget       string
	eventsTarget    string
	linkBase        string
	upstream        string
	model           string
	silenceTimeout  string
	breakerFailures uint
	kafkaBrokers    string
	kafkaTopic      string

	in          io.Reader
	out         *lockedWriter
	interactive bool

	logger  *zap.Logger
	dirs    *dotdir.Manager
	client  stream.Client
	history history.Loader
	links   *deeplink.Builder
	relay   *relay.Relay
	pool    *worker.Pool
	silence time.Duration
}

const chatLongDesc string = `Start an interactive conversation with your coach.

Replies stream in as they are written. Once the coach assigns the conversation
a thread, it is saved to .coach/session.json and resumed the next time you run
"coach chat". Use --new to start over, or --thread to open a specific thread.

Plan change proposals arrive alongside the conversation when an events target
is configured. Review them with /accept or /decline.

Commands:
  /accept     Accept the active plan proposal
  /decline    Decline the active plan proposal
  /thread     Show the current thread and its link
  /new        Start a new conversation
  /exit       Quit (Ctrl+D also works)

Examples:
  coach chat
  coach chat --new
  coach chat --thread 6f1c2a
  coach chat --provider ollama --model llama3.2`

const chatShortDesc string = "Chat with your coach"

// chatFlags are the registry flags bound to viper for the chat command.
var chatFlags = []string{
	config.FlagProvider,
	config.FlagServiceTarget,
	config.FlagAPITarget,
	config.FlagEventsTarget,
	config.FlagLinkBase,
	config.FlagUpstream,
	config.FlagModel,
	config.FlagSilenceTimeout,
	config.FlagBreakerFailures,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, chatFlags)

			cmder.provider = v.GetString("stream.provider")
			cmder.serviceTarget = v.GetString("client.service_target")
			cmder.apiTarget = v.GetString("client.api_target")
			cmder.eventsTarget = v.GetString("client.events_target")
			cmder.linkBase = v.GetString("client.link_base")
			cmder.upstream = v.GetString("stream.upstream")
			cmder.model = v.GetString("stream.model")
			cmder.silenceTimeout = v.GetString("stream.silence_timeout")
			cmder.breakerFailures = v.GetUint("stream.breaker_failures")
			cmder.kafkaBrokers = v.GetString("events.kafka_brokers")
			cmder.kafkaTopic = v.GetString("events.kafka_topic")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = &lockedWriter{w: cmd.OutOrStdout()}
			if f, ok := cmder.in.(*os.File); ok {
				cmder.interactive = term.IsTerminal(int(f.Fd()))
			}
			cmder.logger = logger.NewLoggerWithWriters(cmder.debug, cmd.ErrOrStderr())
			defer func() { _ = cmder.logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx)
		},
	}

	cmd.Flags().StringVar(&cmder.threadID, "thread", "", "Open this thread instead of the saved session")
	cmd.Flags().BoolVar(&cmder.fresh, "new", false, "Forget the saved session and start a new conversation")

	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagServiceTarget, &cmder.serviceTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsTarget, &cmder.eventsTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLinkBase, &cmder.linkBase)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagSilenceTimeout, &cmder.silenceTimeout)
	config.AddUintFlag(cmd, config.Flags, config.FlagBreakerFailures, &cmder.breakerFailures)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if err := c.setup(); err != nil {
		return err
	}

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	if publisher != nil {
		c.pool, err = worker.NewPool(&worker.Config{
			Publisher: publisher,
			Source:    "coach-chat",
			Logger:    c.logger,
		})
		if err != nil {
			_ = publisher.Close()
			return fmt.Errorf("creating exchange pool: %w", err)
		}
		defer func() {
			c.pool.Close()
			_ = publisher.Close()
		}()
	}

	c.relay = relay.New(relay.WithLogger(c.logger))
	defer c.relay.Subscribe(c.printUpdate)()

	threadID, err := c.resumeThreadID()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  %s\n", cliui.KeyValue("Provider", c.provider))
	if c.provider == config.ProviderOllama {
		fmt.Fprintf(c.out, "  %s\n", cliui.KeyValue("Model", c.model))
	}
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	sess, err := c.open(ctx, threadID)
	if err != nil {
		return err
	}
	defer func() { sess.close() }()

	lines, readErr := readLines(ctx, c.in)
	for {
		c.prompt()

		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				if err := <-readErr; err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				return nil
			}
			input = strings.TrimSpace(line)
		}

		switch input {
		case "":
			continue
		case "/exit":
			return nil
		case "/new":
			sess.close()
			if err := c.dirs.ClearSession(c.configDir); err != nil {
				c.logger.Warn("failed to clear session", zap.Error(err))
			}
			next, err := c.open(ctx, "")
			if err != nil {
				return err
			}
			sess = next
			fmt.Fprintf(c.out, "  %s New conversation\n\n", cliui.SuccessMark)
		case "/accept":
			c.resolve(relay.Accept)
		case "/decline":
			c.resolve(relay.Decline)
		case "/thread":
			c.printThread(sess)
		default:
			c.exchange(ctx, sess.ctrl, input)
		}
	}
}

// setup builds the collaborators shared by every conversation of the run.
func (c *chatCommander) setup() error {
	silence, err := time.ParseDuration(c.silenceTimeout)
	if err != nil || silence < 0 {
		return fmt.Errorf("invalid silence timeout %q", c.silenceTimeout)
	}
	c.silence = silence

	var inner stream.Client
	switch c.provider {
	case config.ProviderCoach:
		inner = ssestream.New(c.serviceTarget,
			ssestream.WithModel(c.model),
			ssestream.WithLogger(c.logger),
		)
		c.history = history.NewHTTPLoader(c.apiTarget, nil)
	case config.ProviderOllama:
		inner = ollama.New(c.upstream,
			ollama.WithModel(c.model),
			ollama.WithSystemPrompt(ollama.CoachPrompt),
			ollama.WithLogger(c.logger),
		)
	default:
		return fmt.Errorf("unknown provider %q (valid: %s, %s)", c.provider, config.ProviderCoach, config.ProviderOllama)
	}

	c.client = stream.NewBreaker(inner, stream.BreakerConfig{
		Name:        c.provider,
		MaxFailures: uint32(c.breakerFailures),
		Logger:      c.logger,
	})

	if c.linkBase != "" {
		c.links, err = deeplink.NewBuilder(c.linkBase)
		if err != nil {
			return err
		}
	}

	c.dirs = dotdir.NewManager()
	return nil
}

func (c *chatCommander) newPublisher() (eventstream.Publisher, error) {
	brokers := config.SplitList(c.kafkaBrokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   c.kafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	c.logger.Debug("publishing exchanges to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", c.kafkaTopic),
	)
	return publisher, nil
}

// resumeThreadID picks the thread to open: --thread, then the saved session.
// Ollama has no threads, so nothing is resumed for it.
func (c *chatCommander) resumeThreadID() (string, error) {
	if c.fresh {
		if err := c.dirs.ClearSession(c.configDir); err != nil {
			return "", fmt.Errorf("clearing session: %w", err)
		}
	}
	if c.provider == config.ProviderOllama {
		if c.threadID != "" {
			c.logger.Warn("ollama conversations have no threads, ignoring --thread", zap.String("thread", c.threadID))
		}
		return "", nil
	}
	if c.threadID != "" {
		return c.threadID, nil
	}
	if c.fresh {
		return "", nil
	}

	state, err := c.dirs.LoadSession(c.configDir)
	if err != nil {
		c.logger.Warn("ignoring unreadable session", zap.Error(err))
		return "", nil
	}
	if state == nil {
		return "", nil
	}
	return state.ThreadID, nil
}

func (c *chatCommander) exchange(ctx context.Context, ctrl *conversation.Controller, input string) {
	ctrl.SetDraft(input)
	if err := ctrl.SendDraft(); err != nil {
		fmt.Fprintf(c.out, "  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(err.Error()))
		return
	}

	if err := ctrl.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("waiting for exchange", zap.Error(err))
	}
}

func (c *chatCommander) resolve(d relay.Decision) {
	active, ok := c.relay.Active()
	if !ok {
		fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("No plan proposal to "+d.String()+"."))
		return
	}
	if err := c.relay.Resolve(active.ID, d); err != nil {
		fmt.Fprintf(c.out, "  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(err.Error()))
	}
}

func (c *chatCommander) prompt() {
	if c.interactive {
		fmt.Fprint(c.out, userPrompt)
	}
}

// readLines feeds lines from r until EOF or ctx is done. The error channel
// receives the scanner's final error before lines is closed.
func readLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()

	return lines, errc
}

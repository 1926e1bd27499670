// Package ollama implements stream.Client directly against an Ollama server's
// streaming /api/chat endpoint. Ollama has no notion of threads, so results
// never carry a thread id.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/stream"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemma3:latest"

// CoachPrompt is the system prompt used by the coach when talking to a model
// directly.
const CoachPrompt = `You are a friendly, knowledgeable fitness coach. Help the user plan
training, recover well, and stay consistent. Keep answers short and practical,
ask a clarifying question when the goal is unclear, and never give medical
diagnoses.`

const maxErrorBody = 4096

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"created_at"`
	Message   llm.Message `json:"message"`
	Done      bool        `json:"done"`
	Error     string      `json:"error,omitempty"`
}

// Client streams completions from Ollama.
type Client struct {
	target       string
	model        string
	systemPrompt string
	httpClient   *http.Client
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel selects the Ollama model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSystemPrompt prepends a system message to every request.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.systemPrompt = prompt }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the Ollama server at target.
func New(target string, opts ...Option) *Client {
	c := &Client{
		target: strings.TrimRight(target, "/"),
		model:  DefaultModel,
		// Silence is policed by the caller.
		httpClient: stream.NewHTTPClient(stream.DefaultHeaderTimeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Stream implements stream.Client.
func (c *Client) Stream(ctx context.Context, req *stream.Request, onFragment stream.FragmentFunc) (*stream.Result, error) {
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	if c.systemPrompt != "" {
		messages = append(messages, llm.NewTextMessage(llm.RoleSystem, c.systemPrompt))
	}
	messages = append(messages, req.Messages...)

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending ollama chat request",
		zap.String("target", c.target),
		zap.String("model", c.model),
		zap.Int("message_count", len(messages)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &stream.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Debug("failed to parse stream chunk",
				zap.Error(err),
				zap.String("line", string(line)),
			)
			continue
		}

		if chunk.Error != "" {
			return nil, &stream.RemoteError{Message: chunk.Error}
		}

		if chunk.Message.Content != "" {
			onFragment(chunk.Message.Content)
		}

		if chunk.Done {
			return &stream.Result{}, nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	return nil, stream.ErrTruncated
}

var _ stream.Client = (*Client)(nil)

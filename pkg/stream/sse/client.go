// Package sse implements stream.Client against the coach completion service,
// which answers POST /v1/chat/stream with a text/event-stream body.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/llm"
	ssereader "github.com/papercomputeco/coach/pkg/sse"
	"github.com/papercomputeco/coach/pkg/stream"
)

// ChatStreamPath is the completion endpoint relative to the service target.
const ChatStreamPath = "/v1/chat/stream"

const maxErrorBody = 4096

// Client streams completions from the coach completion service.
type Client struct {
	target     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithModel asks the service for a specific model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the service at target, e.g. "http://localhost:8082".
func New(target string, opts ...Option) *Client {
	c := &Client{
		target: strings.TrimRight(target, "/"),
		// Silence is policed by the caller.
		httpClient: stream.NewHTTPClient(stream.DefaultHeaderTimeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream implements stream.Client.
func (c *Client) Stream(ctx context.Context, req *stream.Request, onFragment stream.FragmentFunc) (*stream.Result, error) {
	body, err := json.Marshal(llm.ChatRequest{
		ThreadID: req.ThreadID,
		Messages: req.Messages,
		Model:    c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat stream request",
		zap.String("target", c.target),
		zap.String("thread_id", req.ThreadID),
		zap.Int("message_count", len(req.Messages)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target+ChatStreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &stream.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	reader := ssereader.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil {
			return nil, stream.ErrTruncated
		}

		switch ev.Type {
		case llm.EventDelta:
			var delta llm.DeltaPayload
			if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
				return nil, fmt.Errorf("decoding delta event: %w", err)
			}
			onFragment(delta.Text)

		case llm.EventDone:
			var done llm.DonePayload
			if ev.Data != "" {
				if err := json.Unmarshal([]byte(ev.Data), &done); err != nil {
					return nil, fmt.Errorf("decoding done event: %w", err)
				}
			}
			return &stream.Result{ThreadID: done.ThreadID}, nil

		case llm.EventError:
			var remote llm.ErrorResponse
			if err := json.Unmarshal([]byte(ev.Data), &remote); err != nil || remote.Error == "" {
				remote.Error = ev.Data
			}
			return nil, &stream.RemoteError{Message: remote.Error}

		default:
			c.logger.Debug("ignoring unknown stream event", zap.String("type", ev.Type))
		}
	}
}

var _ stream.Client = (*Client)(nil)

// Package stream defines the contract between the conversation controller and
// a remote completion service that streams its reply.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/papercomputeco/coach/pkg/llm"
)

var (
	// ErrTruncated is returned when a response stream ends without a terminal event.
	ErrTruncated = errors.New("stream ended without a terminal event")

	// ErrCircuitOpen is returned by a Breaker that is failing fast.
	ErrCircuitOpen = errors.New("completion service circuit open")

	// ErrIdle is the cancellation cause of a call abandoned because the
	// completion service went silent. Unlike other cancellations it counts as
	// a service failure.
	ErrIdle = errors.New("completion service went silent")
)

// DefaultHeaderTimeout bounds how long a streaming call waits for response
// headers.
const DefaultHeaderTimeout = 2 * time.Minute

// NewHTTPClient returns an HTTP client for streaming calls. Dialing and
// response headers are bounded; reading the body is not, since a healthy reply
// may stream for as long as it keeps producing fragments.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// Request is the input of one streaming call: the full conversation history up
// to and including the newly submitted user turn, and the thread id if known.
type Request struct {
	ThreadID string
	Messages []llm.Message
}

// Result is the successful terminal event of a call. ThreadID is empty when
// the service did not supply one.
type Result struct {
	ThreadID string
}

// FragmentFunc receives text deltas in emission order. Fragments may be any
// size, including empty.
type FragmentFunc func(text string)

// Client streams one completion. Stream blocks until the terminal event: a
// non-nil Result on success or an error on failure. onFragment is only ever
// called from the goroutine running Stream, before it returns.
type Client interface {
	Stream(ctx context.Context, req *Request, onFragment FragmentFunc) (*Result, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *Request, onFragment FragmentFunc) (*Result, error)

func (f ClientFunc) Stream(ctx context.Context, req *Request, onFragment FragmentFunc) (*Result, error) {
	return f(ctx, req, onFragment)
}

// StatusError is returned when the completion service answers with a non-200
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion service returned status %d: %s", e.Code, e.Body)
}

// RemoteError carries an error event reported by the completion service
// in-stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "completion service error: " + e.Message
}

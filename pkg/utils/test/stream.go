package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/coach/pkg/stream"
)

// ScriptedClient is a stream.Client whose calls are driven step by step from
// the test. Calls ignore cancellation so tests can deliver events after a call
// has been superseded.
type ScriptedClient struct {
	mu    sync.Mutex
	calls []*ScriptedCall
	ch    chan *ScriptedCall
}

// ScriptedCall is one outstanding Stream invocation.
type ScriptedCall struct {
	Ctx     context.Context
	Request *stream.Request

	fragments chan string
	acks      chan struct{}
	terminal  chan scriptedResult
	returned  chan struct{}
}

type scriptedResult struct {
	res *stream.Result
	err error
}

// NewScriptedClient creates a ScriptedClient.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{ch: make(chan *ScriptedCall, 16)}
}

// Calls delivers each call as it starts.
func (c *ScriptedClient) Calls() <-chan *ScriptedCall {
	return c.ch
}

// CallCount returns the number of calls started so far.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Stream implements stream.Client.
func (c *ScriptedClient) Stream(ctx context.Context, req *stream.Request, onFragment stream.FragmentFunc) (*stream.Result, error) {
	call := &ScriptedCall{
		Ctx:       ctx,
		Request:   req,
		fragments: make(chan string),
		acks:      make(chan struct{}),
		terminal:  make(chan scriptedResult),
		returned:  make(chan struct{}),
	}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	c.ch <- call

	defer close(call.returned)
	for {
		select {
		case f := <-call.fragments:
			onFragment(f)
			call.acks <- struct{}{}
		case t := <-call.terminal:
			return t.res, t.err
		}
	}
}

// Fragment delivers text and blocks until the consumer has handled it.
func (call *ScriptedCall) Fragment(text string) {
	call.fragments <- text
	<-call.acks
}

// Succeed ends the call successfully and blocks until Stream has returned.
func (call *ScriptedCall) Succeed(threadID string) {
	call.terminal <- scriptedResult{res: &stream.Result{ThreadID: threadID}}
	<-call.returned
}

// Fail ends the call with err and blocks until Stream has returned.
func (call *ScriptedCall) Fail(err error) {
	call.terminal <- scriptedResult{err: err}
	<-call.returned
}

// FixedClient returns a stream.Client that emits fragments then terminates
// with res and err.
func FixedClient(fragments []string, res *stream.Result, err error) stream.ClientFunc {
	return func(_ context.Context, _ *stream.Request, onFragment stream.FragmentFunc) (*stream.Result, error) {
		for _, f := range fragments {
			onFragment(f)
		}
		return res, err
	}
}

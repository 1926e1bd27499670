// Package deeplink reflects a bound thread id into externally visible
// locations: a shareable link and the persisted chat session.
package deeplink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/dotdir"
)

// ErrNoBase is returned when a Builder is created without a base URL.
var ErrNoBase = errors.New("deeplink base url is required")

// Builder renders thread links under a base URL.
type Builder struct {
	base *url.URL
}

// NewBuilder parses base, which must be an absolute URL.
func NewBuilder(base string) (*Builder, error) {
	if strings.TrimSpace(base) == "" {
		return nil, ErrNoBase
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing link base %q: %w", base, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("link base %q must be an absolute url", base)
	}

	return &Builder{base: u}, nil
}

// Link returns {base}/{threadID} with the id path-escaped.
func (b *Builder) Link(threadID string) string {
	return b.base.JoinPath(threadID).String()
}

// Binder is the subset of thread.Manager the Recorder attaches to.
type Binder interface {
	OnBound(fn func(id string)) func()
}

// Recorder persists the session and reports the link when a thread binds.
type Recorder struct {
	dirs    *dotdir.Manager
	dir     string
	builder *Builder
	report  func(threadID, link string)
	logger  *zap.Logger
	now     func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBuilder renders a link for each bound thread.
func WithBuilder(b *Builder) RecorderOption {
	return func(r *Recorder) { r.builder = b }
}

// WithReporter is called after the session is saved. link is empty when no
// Builder is configured.
func WithReporter(fn func(threadID, link string)) RecorderOption {
	return func(r *Recorder) { r.report = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder saving sessions into the .coach directory
// resolved from overrideDir.
func NewRecorder(dirs *dotdir.Manager, overrideDir string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		dirs:   dirs,
		dir:    overrideDir,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to binder and returns the unsubscribe func.
func (r *Recorder) Attach(binder Binder) func() {
	return binder.OnBound(r.Record)
}

// Record handles a newly bound thread id.
func (r *Recorder) Record(threadID string) {
	var link string
	if r.builder != nil {
		link = r.builder.Link(threadID)
	}

	if r.dirs != nil {
		err := r.dirs.SaveSession(&dotdir.SessionState{
			ThreadID:  threadID,
			Link:      link,
			UpdatedAt: r.now().UTC(),
		}, r.dir)
		if err != nil {
			r.logger.Warn("failed to save session", zap.String("thread_id", threadID), zap.Error(err))
		}
	}

	r.logger.Debug("thread bound", zap.String("thread_id", threadID), zap.String("link", link))

	if r.report != nil {
		r.report(threadID, link)
	}
}

// Package poller follows a remote job until it reaches a terminal state.
//
// Each Session runs one self-rescheduling loop: fetch, apply, wait, fetch.
// Only one fetch is in flight per session and the next one is scheduled only
// after the previous result has been applied. Failed fetches back off to a
// longer interval; an unauthenticated error ends the session. Cancellation is
// checked before waiting and before applying a result, so nothing is
// published once a session has been cancelled or superseded.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/transcribe-client/internal/logging"
	"github.com/vnmchuo/transcribe-client/internal/transport"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultErrorInterval = 10 * time.Second
)

// Fetcher loads the latest snapshot for a subject.
type Fetcher[T any] func(ctx context.Context, subjectID int64) (T, error)

// Config parametrizes a Poller over the fetch function and the terminal-state
// predicate. Callbacks run on the session goroutine with the session locked
// against cancellation: they must not call Cancel on their own session or
// Start/Cancel/Stop on their poller synchronously.
type Config[T any] struct {
	Name          string
	Fetch         Fetcher[T]
	Terminal      func(T) bool
	Interval      time.Duration
	ErrorInterval time.Duration
	// Fatal reports errors that end the session instead of being retried.
	// Defaults to transport.ErrUnauthenticated.
	Fatal func(error) bool

	OnUpdate func(subjectID int64, snapshot T)
	OnError  func(subjectID int64, err error)
	// OnDone fires once when the session terminates on its own, with
	// StateTerminated and either the final snapshot or the fatal error.
	// Cancelled sessions end silently.
	OnDone func(subjectID int64, snapshot T, err error)

	Clock  clockwork.Clock
	Logger zerolog.Logger
	Tracer trace.Tracer
}

func (c *Config[T]) withDefaults() {
	if c.Name == "" {
		c.Name = "job"
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = DefaultErrorInterval
	}
	if c.ErrorInterval < c.Interval {
		c.ErrorInterval = c.Interval
	}
	if c.Fatal == nil {
		c.Fatal = func(err error) bool { return errors.Is(err, transport.ErrUnauthenticated) }
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("poller")
	}
	c.Logger = logging.Component(c.Logger, "poller").With().Str("poller", c.Name).Logger()
}

// Poller owns at most one active Session. Independent pollers (for example
// transcription and analysis) share nothing but the fetch function's
// transport.
type Poller[T any] struct {
	cfg Config[T]

	mu      sync.Mutex
	current *Session[T]
}

func New[T any](cfg Config[T]) *Poller[T] {
	if cfg.Fetch == nil {
		panic("poller: Fetch is required")
	}
	if cfg.Terminal == nil {
		panic("poller: Terminal is required")
	}
	cfg.withDefaults()
	return &Poller[T]{cfg: cfg}
}

// Start cancels the session for the previous subject, if any, and begins a
// new one. The first fetch is issued immediately. Cancelling ctx cancels the
// session.
func (p *Poller[T]) Start(ctx context.Context, subjectID int64) *Session[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.Cancel()
	}
	s := newSession(ctx, subjectID, &p.cfg)
	p.current = s
	go s.run()
	return s
}

// Cancel is idempotent and safe after the session has terminated.
func (p *Poller[T]) Cancel(s *Session[T]) {
	if s == nil {
		return
	}
	s.Cancel()

	p.mu.Lock()
	if p.current == s {
		p.current = nil
	}
	p.mu.Unlock()
}

// Current returns the most recently started session, or nil.
func (p *Poller[T]) Current() *Session[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop tears the poller down, cancelling its session.
func (p *Poller[T]) Stop() {
	p.Cancel(p.Current())
}

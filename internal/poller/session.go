package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/transcribe-client/internal/metrics"
)

type State int

const (
	StateIdle State = iota
	StatePolling
	StateTerminated
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePolling:
		return "POLLING"
	case StateTerminated:
		return "TERMINATED"
	case StateCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Attempt tells whether the next fetch follows a successful one or an error.
type Attempt int

const (
	AttemptNormal Attempt = iota
	AttemptAfterError
)

// Session is the handle for one polling loop over one subject.
type Session[T any] struct {
	subjectID int64
	cfg       *Config[T]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	snapshot  T
	attempt   Attempt
	nextDelay time.Duration
	fetches   int
	err       error
}

func newSession[T any](parent context.Context, subjectID int64, cfg *Config[T]) *Session[T] {
	ctx, cancel := context.WithCancel(parent)
	return &Session[T]{
		subjectID: subjectID,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StatePolling,
	}
}

func (s *Session[T]) run() {
	defer close(s.done)
	defer s.cancel()

	log := s.cfg.Logger.With().Int64("subject_id", s.subjectID).Logger()
	log.Debug().Msg("Polling started")

	var delay time.Duration
	for {
		if delay > 0 {
			timer := s.cfg.Clock.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				s.markCancelled()
				return
			case <-timer.Chan():
			}
		}

		snapshot, err := s.fetch()

		next, ok := s.apply(snapshot, err)
		if !ok {
			return
		}
		delay = next
	}
}

func (s *Session[T]) fetch() (T, error) {
	ctx, span := s.cfg.Tracer.Start(s.ctx, "poller.fetch",
		trace.WithAttributes(
			attribute.String("poller.name", s.cfg.Name),
			attribute.Int64("poller.subject_id", s.subjectID),
		),
	)
	defer span.End()

	snapshot, err := s.cfg.Fetch(ctx, s.subjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return snapshot, err
}

// apply publishes a fetch result and returns the delay before the next fetch.
// It returns false when the loop must stop.
func (s *Session[T]) apply(snapshot T, err error) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.cfg.Logger.With().Int64("subject_id", s.subjectID).Logger()

	if s.state != StatePolling || s.ctx.Err() != nil {
		s.cancelLocked()
		metrics.IncPollFetch(s.cfg.Name, "discarded")
		log.Debug().Msg("Discarding result for cancelled session")
		return 0, false
	}
	s.fetches++

	if err != nil {
		metrics.IncPollFetch(s.cfg.Name, "error")
		if s.cfg.Fatal(err) {
			s.state = StateTerminated
			s.err = err
			metrics.IncPollSession(s.cfg.Name, "unauthenticated")
			log.Warn().Err(err).Msg("Polling stopped")
			if s.cfg.OnDone != nil {
				s.cfg.OnDone(s.subjectID, s.snapshot, err)
			}
			return 0, false
		}

		s.err = err
		s.attempt = AttemptAfterError
		s.nextDelay = s.cfg.ErrorInterval
		log.Warn().Err(err).Dur("retry_in", s.nextDelay).Msg("Poll failed, backing off")
		if s.cfg.OnError != nil {
			s.cfg.OnError(s.subjectID, err)
		}
		return s.nextDelay, true
	}

	metrics.IncPollFetch(s.cfg.Name, "ok")
	s.err = nil
	s.snapshot = snapshot
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(s.subjectID, snapshot)
	}

	if s.cfg.Terminal(snapshot) {
		s.state = StateTerminated
		metrics.IncPollSession(s.cfg.Name, "terminal")
		log.Info().Int("fetches", s.fetches).Msg("Polling finished")
		if s.cfg.OnDone != nil {
			s.cfg.OnDone(s.subjectID, snapshot, nil)
		}
		return 0, false
	}

	s.attempt = AttemptNormal
	s.nextDelay = s.cfg.Interval
	return s.nextDelay, true
}

func (s *Session[T]) markCancelled() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

func (s *Session[T]) cancelLocked() {
	if s.state != StatePolling && s.state != StateIdle {
		return
	}
	s.state = StateCancelled
	metrics.IncPollSession(s.cfg.Name, "cancelled")
	s.cfg.Logger.Debug().Int64("subject_id", s.subjectID).Msg("Polling cancelled")
}

// Cancel stops the session. Once it returns no callback will fire for this
// session, including for a fetch that is still in flight. Cancelling a
// terminated session leaves it terminated.
func (s *Session[T]) Cancel() {
	s.cancel()
	s.markCancelled()
}

// Done is closed when the session's goroutine has exited.
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends or ctx is done and returns the final
// state.
func (s *Session[T]) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

func (s *Session[T]) SubjectID() int64 { return s.subjectID }

func (s *Session[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the last successfully applied snapshot.
func (s *Session[T]) Snapshot() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Err returns the last fetch error: the fatal one for a session that stopped
// on it, the latest transient one while backing off, nil otherwise.
func (s *Session[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next reports the kind and delay of the next scheduled fetch.
func (s *Session[T]) Next() (Attempt, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt, s.nextDelay
}

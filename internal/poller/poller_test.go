package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vnmchuo/transcribe-client/internal/api"
	"github.com/vnmchuo/transcribe-client/internal/job"
	"github.com/vnmchuo/transcribe-client/internal/transport"
)

// recordingClock remembers every delay the session schedules.
type recordingClock struct {
	*clockwork.FakeClock

	mu     sync.Mutex
	delays []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{FakeClock: clockwork.NewFakeClock()}
}

func (c *recordingClock) NewTimer(d time.Duration) clockwork.Timer {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return c.FakeClock.NewTimer(d)
}

func (c *recordingClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// step waits for the session to arm its timer and fires it.
func (c *recordingClock) step(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("Session never scheduled a fetch: %v", err)
	}
	c.Advance(d)
}

type result struct {
	job *job.Job
	err error
}

// script replays results in order and records when each fetch happened.
type script struct {
	clock   clockwork.Clock
	start   time.Time
	results []result

	mu    sync.Mutex
	calls []time.Duration
}

func (s *script) fetch(ctx context.Context, id int64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, s.clock.Since(s.start))
	r := s.results[min(len(s.calls)-1, len(s.results)-1)]
	return r.job, r.err
}

func (s *script) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

func status(st job.Status) result {
	return result{job: &job.Job{ID: 1, Status: st}}
}

func waitDone[T any](t *testing.T, s *Session[T]) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Session did not finish, state %s", s.State())
	}
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_PollsUntilCompleted(t *testing.T) {
	clock := newRecordingClock()
	completed := &job.Job{ID: 1, Status: job.StatusCompleted, Result: "hello"}
	sc := &script{clock: clock, start: clock.Now(), results: []result{
		status(job.StatusPending),
		status(job.StatusRunning),
		status(job.StatusRunning),
		{job: completed},
	}}

	var updates atomic.Int32
	var final *job.Job
	p := New(Config[*job.Job]{
		Fetch:         sc.fetch,
		Terminal:      job.Terminal,
		Interval:      5 * time.Second,
		ErrorInterval: 10 * time.Second,
		Clock:         clock,
		OnUpdate:      func(int64, *job.Job) { updates.Add(1) },
		OnDone:        func(_ int64, j *job.Job, _ error) { final = j },
	})

	s := p.Start(context.Background(), 1)
	for i := 0; i < 3; i++ {
		clock.step(t, 5*time.Second)
	}
	waitDone(t, s)

	want := []time.Duration{0, 5 * time.Second, 10 * time.Second, 15 * time.Second}
	if got := sc.Calls(); !equalDurations(got, want) {
		t.Errorf("Expected fetches at %v, got %v", want, got)
	}
	if got := clock.Delays(); !equalDurations(got, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}) {
		t.Errorf("Expected three 5s delays, got %v", got)
	}
	if s.State() != StateTerminated {
		t.Errorf("Expected TERMINATED, got %s", s.State())
	}
	if updates.Load() != 4 {
		t.Errorf("Expected 4 updates, got %d", updates.Load())
	}
	if final == nil || final.Result != "hello" {
		t.Errorf("Expected completed job with result, got %+v", final)
	}
	if s.Snapshot().Status != job.StatusCompleted {
		t.Errorf("Expected COMPLETED snapshot, got %s", s.Snapshot().Status)
	}
}

func TestSession_BacksOffOnErrors(t *testing.T) {
	clock := newRecordingClock()
	failed := &job.Job{ID: 1, Status: job.StatusFailed, ErrorMessage: "unsupported codec"}
	sc := &script{clock: clock, start: clock.Now(), results: []result{
		{err: errors.New("connection refused")},
		{err: fmt.Errorf("%w: bad json", api.ErrValidation)},
		{job: failed},
	}}

	var transient atomic.Int32
	var updates atomic.Int32
	var doneErr error
	var final *job.Job
	p := New(Config[*job.Job]{
		Fetch:         sc.fetch,
		Terminal:      job.Terminal,
		Interval:      5 * time.Second,
		ErrorInterval: 10 * time.Second,
		Clock:         clock,
		OnUpdate:      func(int64, *job.Job) { updates.Add(1) },
		OnError:       func(int64, error) { transient.Add(1) },
		OnDone: func(_ int64, j *job.Job, err error) {
			final, doneErr = j, err
		},
	})

	s := p.Start(context.Background(), 1)
	clock.step(t, 10*time.Second)
	clock.step(t, 10*time.Second)
	waitDone(t, s)

	want := []time.Duration{0, 10 * time.Second, 20 * time.Second}
	if got := sc.Calls(); !equalDurations(got, want) {
		t.Errorf("Expected fetches at %v, got %v", want, got)
	}
	if got := clock.Delays(); !equalDurations(got, []time.Duration{10 * time.Second, 10 * time.Second}) {
		t.Errorf("Expected two 10s back-off delays, got %v", got)
	}
	if transient.Load() != 2 {
		t.Errorf("Expected 2 transient errors, got %d", transient.Load())
	}
	if updates.Load() != 1 {
		t.Errorf("Expected only the FAILED snapshot published, got %d updates", updates.Load())
	}
	if doneErr != nil {
		t.Errorf("A FAILED job is a normal terminal state, got err %v", doneErr)
	}
	if final == nil || final.ErrorMessage != "unsupported codec" {
		t.Errorf("Expected failed job with message, got %+v", final)
	}
}

func TestSession_RecoversToNormalInterval(t *testing.T) {
	clock := newRecordingClock()
	sc := &script{clock: clock, start: clock.Now(), results: []result{
		{err: errors.New("timeout")},
		status(job.StatusRunning),
		status(job.StatusCompleted),
	}}
	p := New(Config[*job.Job]{
		Fetch:         sc.fetch,
		Terminal:      job.Terminal,
		Interval:      5 * time.Second,
		ErrorInterval: 10 * time.Second,
		Clock:         clock,
	})

	s := p.Start(context.Background(), 1)
	clock.step(t, 10*time.Second)
	clock.step(t, 5*time.Second)
	waitDone(t, s)

	if got := clock.Delays(); !equalDurations(got, []time.Duration{10 * time.Second, 5 * time.Second}) {
		t.Errorf("Expected back-off then normal delay, got %v", got)
	}
	if s.Err() != nil {
		t.Errorf("Expected error cleared after success, got %v", s.Err())
	}
}

func TestSession_StopsOnUnauthenticated(t *testing.T) {
	clock := newRecordingClock()
	authErr := fmt.Errorf("%w: refresh rejected", transport.ErrUnauthenticated)
	sc := &script{clock: clock, start: clock.Now(), results: []result{
		status(job.StatusRunning),
		{err: authErr},
	}}

	var doneErr error
	p := New(Config[*job.Job]{
		Fetch:    sc.fetch,
		Terminal: job.Terminal,
		Interval: 5 * time.Second,
		Clock:    clock,
		OnDone:   func(_ int64, _ *job.Job, err error) { doneErr = err },
	})

	s := p.Start(context.Background(), 1)
	clock.step(t, 5*time.Second)
	waitDone(t, s)

	if s.State() != StateTerminated {
		t.Errorf("Expected TERMINATED, got %s", s.State())
	}
	if !errors.Is(doneErr, transport.ErrUnauthenticated) {
		t.Errorf("Expected OnDone with ErrUnauthenticated, got %v", doneErr)
	}
	if !errors.Is(s.Err(), transport.ErrUnauthenticated) {
		t.Errorf("Expected Err() ErrUnauthenticated, got %v", s.Err())
	}
	if len(sc.Calls()) != 2 {
		t.Errorf("Expected no fetch after unauthenticated, got %d", len(sc.Calls()))
	}
	if s.Snapshot().Status != job.StatusRunning {
		t.Errorf("Expected last good snapshot kept, got %+v", s.Snapshot())
	}
}

func TestSession_NoJobYetKeepsPolling(t *testing.T) {
	clock := newRecordingClock()
	sc := &script{clock: clock, start: clock.Now(), results: []result{
		{},
		status(job.StatusCompleted),
	}}
	p := New(Config[*job.Job]{
		Fetch:    sc.fetch,
		Terminal: job.Terminal,
		Interval: 5 * time.Second,
		Clock:    clock,
	})

	s := p.Start(context.Background(), 1)
	clock.step(t, 5*time.Second)
	waitDone(t, s)

	if got := clock.Delays(); !equalDurations(got, []time.Duration{5 * time.Second}) {
		t.Errorf("Expected normal interval after empty result, got %v", got)
	}
}

func TestSession_CancelDuringFetchDiscardsResult(t *testing.T) {
	clock := newRecordingClock()
	started := make(chan struct{})
	release := make(chan struct{})

	var updates, dones atomic.Int32
	p := New(Config[*job.Job]{
		Fetch: func(ctx context.Context, id int64) (*job.Job, error) {
			close(started)
			<-release
			return &job.Job{ID: 1, Status: job.StatusCompleted}, nil
		},
		Terminal: job.Terminal,
		Clock:    clock,
		OnUpdate: func(int64, *job.Job) { updates.Add(1) },
		OnDone:   func(int64, *job.Job, error) { dones.Add(1) },
	})

	s := p.Start(context.Background(), 1)
	<-started
	s.Cancel()
	close(release)
	waitDone(t, s)

	if s.State() != StateCancelled {
		t.Errorf("Expected CANCELLED, got %s", s.State())
	}
	if updates.Load() != 0 || dones.Load() != 0 {
		t.Errorf("Expected no callbacks after cancel, got %d updates %d dones", updates.Load(), dones.Load())
	}
	if s.Snapshot() != nil {
		t.Errorf("Expected no snapshot applied, got %+v", s.Snapshot())
	}
}

func TestSession_CancelWhileWaiting(t *testing.T) {
	clock := newRecordingClock()
	sc := &script{clock: clock, start: clock.Now(), results: []result{status(job.StatusRunning)}}
	p := New(Config[*job.Job]{
		Fetch:    sc.fetch,
		Terminal: job.Terminal,
		Interval: 5 * time.Second,
		Clock:    clock,
	})

	s := p.Start(context.Background(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("Session never scheduled a fetch: %v", err)
	}
	p.Cancel(s)
	waitDone(t, s)
	clock.Advance(time.Minute)

	if len(sc.Calls()) != 1 {
		t.Errorf("Expected no fetch after cancel, got %d", len(sc.Calls()))
	}
	if p.Current() != nil {
		t.Error("Expected poller to forget the cancelled session")
	}
}

func TestSession_CancelIsIdempotent(t *testing.T) {
	clock := newRecordingClock()
	sc := &script{clock: clock, start: clock.Now(), results: []result{status(job.StatusCompleted)}}
	p := New(Config[*job.Job]{Fetch: sc.fetch, Terminal: job.Terminal, Clock: clock})

	s := p.Start(context.Background(), 1)
	waitDone(t, s)

	s.Cancel()
	s.Cancel()
	p.Cancel(s)
	p.Stop()
	if s.State() != StateTerminated {
		t.Errorf("Expected terminated session to stay TERMINATED, got %s", s.State())
	}

	other := p.Start(context.Background(), 2)
	other.Cancel()
	other.Cancel()
	waitDone(t, other)
	if other.State() == StatePolling {
		t.Errorf("Expected session to stop, got %s", other.State())
	}
}

func TestSession_ParentContextCancels(t *testing.T) {
	clock := newRecordingClock()
	sc := &script{clock: clock, start: clock.Now(), results: []result{status(job.StatusRunning)}}
	p := New(Config[*job.Job]{Fetch: sc.fetch, Terminal: job.Terminal, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	s := p.Start(ctx, 1)
	bctx, bcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer bcancel()
	if err := clock.BlockUntilContext(bctx, 1); err != nil {
		t.Fatalf("Session never scheduled a fetch: %v", err)
	}
	cancel()
	waitDone(t, s)

	if s.State() != StateCancelled {
		t.Errorf("Expected CANCELLED, got %s", s.State())
	}
}

func TestPoller_StartSupersedesPreviousSubject(t *testing.T) {
	clock := newRecordingClock()
	aStarted := make(chan struct{})
	releaseA := make(chan struct{})

	var mu sync.Mutex
	var shown *job.Job
	p := New(Config[*job.Job]{
		Fetch: func(ctx context.Context, id int64) (*job.Job, error) {
			if id == 1 {
				close(aStarted)
				<-releaseA
				return &job.Job{ID: 100, Status: job.StatusCompleted, Result: "stale"}, nil
			}
			return &job.Job{ID: 200, Status: job.StatusCompleted, Result: "fresh"}, nil
		},
		Terminal: job.Terminal,
		Clock:    clock,
		OnUpdate: func(_ int64, j *job.Job) {
			mu.Lock()
			shown = j
			mu.Unlock()
		},
	})

	a := p.Start(context.Background(), 1)
	<-aStarted
	b := p.Start(context.Background(), 2)
	waitDone(t, b)
	close(releaseA)
	waitDone(t, a)

	mu.Lock()
	defer mu.Unlock()
	if shown == nil || shown.ID != 200 {
		t.Errorf("Expected subject 2's job to win, got %+v", shown)
	}
	if a.State() != StateCancelled {
		t.Errorf("Expected first session CANCELLED, got %s", a.State())
	}
	if p.Current() != b {
		t.Error("Expected second session to be current")
	}
}

func TestState_String(t *testing.T) {
	if StatePolling.String() != "POLLING" || StateCancelled.String() != "CANCELLED" {
		t.Errorf("Unexpected state names %s %s", StatePolling, StateCancelled)
	}
}

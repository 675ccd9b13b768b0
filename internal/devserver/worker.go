package devserver

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/transcribe-client/internal/logging"
)

// Worker stands in for the transcription and analysis task queue: every step
// it advances each unfinished job by one state.
type Worker struct {
	store *Store
	step  time.Duration
	clock clockwork.Clock
	log   zerolog.Logger
}

func NewWorker(store *Store, step time.Duration, clock clockwork.Clock, log zerolog.Logger) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{store: store, step: step, clock: clock, log: logging.Component(log, "worker")}
}

// Process runs until ctx is done.
func (w *Worker) Process(ctx context.Context) {
	ticker := w.clock.NewTicker(w.step)
	defer ticker.Stop()

	w.log.Info().Dur("step", w.step).Msg("Job worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Job worker stopped")
			return
		case <-ticker.Chan():
			if n := w.store.Advance(); n > 0 {
				w.log.Debug().Int("jobs", n).Msg("Advanced jobs")
			}
		}
	}
}

package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownStatus = errors.New("unknown job status")

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus accepts the server's PROCESSING spelling for RUNNING.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, nil
	case "RUNNING", "PROCESSING":
		return StatusRunning, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "FAILED":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the common view of a transcription job or an analysis request.
// A re-submission creates a new Job; a terminal Job is never resurrected.
type Job struct {
	ID           int64
	Status       Status
	Result       string
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Terminal is the poller's stop predicate. A nil job (nothing submitted yet)
// keeps the session polling.
func Terminal(j *Job) bool {
	return j != nil && j.Status.Terminal()
}

// Latest returns the most recently created job, preferring the later
// position when timestamps tie. It returns nil for an empty slice.
func Latest(jobs []Job) *Job {
	var latest *Job
	for i := range jobs {
		if latest == nil || !jobs[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &jobs[i]
		}
	}
	if latest == nil {
		return nil
	}
	out := *latest
	return &out
}

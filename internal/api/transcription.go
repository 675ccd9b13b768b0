package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vnmchuo/transcribe-client/internal/job"
)

type TranscriptionJob struct {
	job.Job
	FileID   int64
	Language string
}

type transcriptionJobPayload struct {
	ID             int64      `json:"id"`
	File           int64      `json:"file"`
	Status         string     `json:"status"`
	Language       *string    `json:"language"`
	TranscriptText *string    `json:"transcript_text"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ErrorMessage   *string    `json:"error_message"`
}

func (p transcriptionJobPayload) toJob() (TranscriptionJob, error) {
	status, err := job.ParseStatus(p.Status)
	if err != nil {
		return TranscriptionJob{}, fmt.Errorf("%w: transcription job %d: %v", ErrValidation, p.ID, err)
	}
	return TranscriptionJob{
		Job: job.Job{
			ID:           p.ID,
			Status:       status,
			Result:       optional(p.TranscriptText),
			ErrorMessage: optional(p.ErrorMessage),
			CreatedAt:    p.CreatedAt,
			CompletedAt:  p.CompletedAt,
		},
		FileID:   p.File,
		Language: optional(p.Language),
	}, nil
}

type startTranscriptionRequest struct {
	FileID   int64  `json:"file_id"`
	Language string `json:"language,omitempty"`
}

func (c *Client) StartTranscription(ctx context.Context, fileID int64, language string) (*TranscriptionJob, error) {
	if language == "" {
		language = "en"
	}
	var p transcriptionJobPayload
	if err := c.do(ctx, http.MethodPost, "/transcription/jobs/", nil, startTranscriptionRequest{FileID: fileID, Language: language}, &p); err != nil {
		return nil, err
	}
	j, err := p.toJob()
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) GetTranscriptionJob(ctx context.Context, id int64) (*TranscriptionJob, error) {
	var p transcriptionJobPayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/transcription/jobs/%d/", id), nil, nil, &p); err != nil {
		return nil, err
	}
	j, err := p.toJob()
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListTranscriptionJobs asks the server to filter by file and filters again
// locally, since older servers ignore the parameter.
func (c *Client) ListTranscriptionJobs(ctx context.Context, fileID int64) ([]TranscriptionJob, error) {
	var payload []transcriptionJobPayload
	query := url.Values{"file": {strconv.FormatInt(fileID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/transcription/jobs/", query, nil, &payload); err != nil {
		return nil, err
	}

	jobs := make([]TranscriptionJob, 0, len(payload))
	for _, p := range payload {
		if p.File != fileID {
			continue
		}
		j, err := p.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// LatestTranscription returns the newest transcription job for a file, or
// nil when none has been submitted yet.
func (c *Client) LatestTranscription(ctx context.Context, fileID int64) (*job.Job, error) {
	jobs, err := c.ListTranscriptionJobs(ctx, fileID)
	if err != nil {
		return nil, err
	}
	plain := make([]job.Job, len(jobs))
	for i := range jobs {
		plain[i] = jobs[i].Job
	}
	return job.Latest(plain), nil
}

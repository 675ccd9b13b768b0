package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vnmchuo/transcribe-client/internal/job"
)

type AnalysisType string

const (
	AnalysisSummary     AnalysisType = "SUMMARY"
	AnalysisReport      AnalysisType = "REPORT"
	AnalysisTranslation AnalysisType = "TRANSLATION"
	AnalysisCustom      AnalysisType = "CUSTOM"
)

func ParseAnalysisType(s string) (AnalysisType, error) {
	t := AnalysisType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case "":
		return AnalysisSummary, nil
	case AnalysisSummary, AnalysisReport, AnalysisTranslation, AnalysisCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown analysis type %q (want SUMMARY, REPORT, TRANSLATION or CUSTOM)", s)
}

type AnalysisRequest struct {
	job.Job
	TranscriptionJobID int64
	Type               AnalysisType
	UserPrompt         string
}

type analysisPayload struct {
	ID               int64      `json:"id"`
	TranscriptionJob int64      `json:"transcription_job"`
	Type             string     `json:"type"`
	UserPrompt       *string    `json:"user_prompt"`
	ResultText       *string    `json:"result_text"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	ErrorMessage     *string    `json:"error_message"`
}

func (p analysisPayload) toRequest() (AnalysisRequest, error) {
	status, err := job.ParseStatus(p.Status)
	if err != nil {
		return AnalysisRequest{}, fmt.Errorf("%w: analysis request %d: %v", ErrValidation, p.ID, err)
	}
	return AnalysisRequest{
		Job: job.Job{
			ID:           p.ID,
			Status:       status,
			Result:       optional(p.ResultText),
			ErrorMessage: optional(p.ErrorMessage),
			CreatedAt:    p.CreatedAt,
			CompletedAt:  p.CompletedAt,
		},
		TranscriptionJobID: p.TranscriptionJob,
		Type:               AnalysisType(p.Type),
		UserPrompt:         optional(p.UserPrompt),
	}, nil
}

type requestAnalysisBody struct {
	TranscriptionJobID int64        `json:"transcription_job_id"`
	Type               AnalysisType `json:"type"`
	UserPrompt         string       `json:"user_prompt"`
}

func (c *Client) RequestAnalysis(ctx context.Context, transcriptionJobID int64, analysisType AnalysisType, prompt string) (*AnalysisRequest, error) {
	t, err := ParseAnalysisType(string(analysisType))
	if err != nil {
		return nil, err
	}
	var p analysisPayload
	body := requestAnalysisBody{TranscriptionJobID: transcriptionJobID, Type: t, UserPrompt: prompt}
	if err := c.do(ctx, http.MethodPost, "/analysis/requests/", nil, body, &p); err != nil {
		return nil, err
	}
	r, err := p.toRequest()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetAnalysis(ctx context.Context, id int64) (*AnalysisRequest, error) {
	var p analysisPayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/analysis/requests/%d/", id), nil, nil, &p); err != nil {
		return nil, err
	}
	r, err := p.toRequest()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListAnalyses(ctx context.Context, transcriptionJobID int64) ([]AnalysisRequest, error) {
	var payload []analysisPayload
	query := url.Values{"transcription_job": {strconv.FormatInt(transcriptionJobID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/analysis/requests/", query, nil, &payload); err != nil {
		return nil, err
	}

	out := make([]AnalysisRequest, 0, len(payload))
	for _, p := range payload {
		if p.TranscriptionJob != transcriptionJobID {
			continue
		}
		r, err := p.toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) LatestAnalysis(ctx context.Context, transcriptionJobID int64) (*job.Job, error) {
	reqs, err := c.ListAnalyses(ctx, transcriptionJobID)
	if err != nil {
		return nil, err
	}
	plain := make([]job.Job, len(reqs))
	for i := range reqs {
		plain[i] = reqs[i].Job
	}
	return job.Latest(plain), nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vnmchuo/transcribe-client/internal/job"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL+"/api/", server.Client())
}

func TestListTranscriptionJobs_FiltersAndMaps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcription/jobs/" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("file") != "7" {
			t.Errorf("Expected file=7 filter, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":1,"file":7,"status":"COMPLETED","transcript_text":"old","created_at":"2026-01-01T10:00:00Z"},
			{"id":2,"file":8,"status":"PENDING","created_at":"2026-01-01T11:00:00Z"},
			{"id":3,"file":7,"status":"PROCESSING","language":"fr","created_at":"2026-01-01T12:00:00.123456Z"}
		]`))
	})

	jobs, err := c.ListTranscriptionJobs(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListTranscriptionJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs for file 7, got %d", len(jobs))
	}
	if jobs[1].Status != job.StatusRunning {
		t.Errorf("Expected PROCESSING to map to RUNNING, got %s", jobs[1].Status)
	}
	if jobs[1].Language != "fr" {
		t.Errorf("Expected language fr, got %s", jobs[1].Language)
	}
	if jobs[0].Result != "old" {
		t.Errorf("Expected transcript text as result, got %q", jobs[0].Result)
	}

	latest, err := c.LatestTranscription(context.Background(), 7)
	if err != nil {
		t.Fatalf("LatestTranscription failed: %v", err)
	}
	if latest == nil || latest.ID != 3 {
		t.Errorf("Expected latest job 3, got %+v", latest)
	}
}

func TestLatestTranscription_None(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	latest, err := c.LatestTranscription(context.Background(), 7)
	if err != nil {
		t.Fatalf("LatestTranscription failed: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil job, got %+v", latest)
	}
}

func TestStartTranscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var body startTranscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body.FileID != 7 || body.Language != "en" {
			t.Errorf("Expected {7 en}, got %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":9,"file":7,"status":"PENDING","language":"en","created_at":"2026-01-01T10:00:00Z"}`))
	})

	j, err := c.StartTranscription(context.Background(), 7, "")
	if err != nil {
		t.Fatalf("StartTranscription failed: %v", err)
	}
	if j.ID != 9 || j.Status != job.StatusPending {
		t.Errorf("Unexpected job %+v", j)
	}
}

func TestGetTranscriptionJob_Failed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcription/jobs/9/" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":9,"file":7,"status":"FAILED","error_message":"unsupported codec","created_at":"2026-01-01T10:00:00Z"}`))
	})

	j, err := c.GetTranscriptionJob(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetTranscriptionJob failed: %v", err)
	}
	if j.Status != job.StatusFailed || j.ErrorMessage != "unsupported codec" {
		t.Errorf("Unexpected job %+v", j)
	}
}

func TestDo_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"You do not have permission to transcribe this file."}`))
	})

	_, err := c.StartTranscription(context.Background(), 7, "en")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", statusErr.StatusCode)
	}
}

func TestDo_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"unknown status", `[{"id":1,"file":7,"status":"EXPLODED","created_at":"2026-01-01T10:00:00Z"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.ListTranscriptionJobs(context.Background(), 7)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRequestAnalysis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body requestAnalysisBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body.TranscriptionJobID != 3 || body.Type != AnalysisReport || body.UserPrompt != "focus on actions" {
			t.Errorf("Unexpected body %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":4,"transcription_job":3,"type":"REPORT","user_prompt":"focus on actions","status":"PENDING","created_at":"2026-01-01T10:00:00Z"}`))
	})

	r, err := c.RequestAnalysis(context.Background(), 3, "report", "focus on actions")
	if err != nil {
		t.Fatalf("RequestAnalysis failed: %v", err)
	}
	if r.ID != 4 || r.Type != AnalysisReport {
		t.Errorf("Unexpected analysis %+v", r)
	}
}

func TestRequestAnalysis_InvalidType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request should be sent for an invalid type")
	})
	if _, err := c.RequestAnalysis(context.Background(), 3, "POEM", ""); err == nil {
		t.Error("Expected error for unknown analysis type")
	}
}

func TestLatestAnalysis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transcription_job") != "3" {
			t.Errorf("Expected transcription_job=3 filter, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"id":4,"transcription_job":3,"type":"SUMMARY","status":"COMPLETED","result_text":"short","created_at":"2026-01-01T10:00:00Z"},
			{"id":5,"transcription_job":2,"type":"SUMMARY","status":"PENDING","created_at":"2026-01-01T12:00:00Z"}
		]`))
	})

	latest, err := c.LatestAnalysis(context.Background(), 3)
	if err != nil {
		t.Fatalf("LatestAnalysis failed: %v", err)
	}
	if latest == nil || latest.ID != 4 || latest.Result != "short" {
		t.Errorf("Unexpected latest analysis %+v", latest)
	}
}

func TestCurrentUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/me/" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":1,"username":"demo","email":"demo@example.com","pseudo":"Demo"}`))
	})

	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if u.Username != "demo" {
		t.Errorf("Expected demo, got %s", u.Username)
	}
}

func TestParseAnalysisType(t *testing.T) {
	if got, _ := ParseAnalysisType(""); got != AnalysisSummary {
		t.Errorf("Expected SUMMARY default, got %s", got)
	}
	if got, _ := ParseAnalysisType("translation"); got != AnalysisTranslation {
		t.Errorf("Expected TRANSLATION, got %s", got)
	}
}

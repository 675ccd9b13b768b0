// Package devserver is a small in-memory media backend: JWT login and
// refresh, transcription jobs and analysis requests driven by a simulated
// worker. It exists to run mediactl end to end without the real service.
package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/transcribe-client/internal/job"
	"github.com/vnmchuo/transcribe-client/internal/logging"
	"github.com/vnmchuo/transcribe-client/pkg/ratelimit"
)

type Handler struct {
	store   *Store
	tokens  *Tokens
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	log     zerolog.Logger
}

// NewHandler wires the API handlers. limiter may be nil to disable rate
// limiting.
func NewHandler(store *Store, tokens *Tokens, limiter *ratelimit.Limiter, tracer trace.Tracer, log zerolog.Logger) *Handler {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("devserver")
	}
	return &Handler{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		tracer:  tracer,
		log:     logging.Component(log, "devserver"),
	}
}

// Routes mounts the API under the returned router; callers add /healthz and
// /metrics next to it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/login/", h.HandleLogin)
	r.Post("/auth/refresh/", h.HandleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.tokens))
		r.Use(h.rateLimit)
		r.Get("/users/me/", h.HandleMe)
		r.Get("/transcription/jobs/", h.HandleListTranscriptions)
		r.Post("/transcription/jobs/", h.HandleCreateTranscription)
		r.Get("/transcription/jobs/{id}/", h.HandleGetTranscription)
		r.Get("/analysis/requests/", h.HandleListAnalyses)
		r.Post("/analysis/requests/", h.HandleCreateAnalysis)
		r.Get("/analysis/requests/{id}/", h.HandleGetAnalysis)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		userID := strconv.FormatInt(GetUserID(r.Context()), 10)
		allowed, err := h.limiter.Allow(r.Context(), userID)
		if err != nil {
			h.log.Error().Err(err).Msg("Rate limiter unavailable")
		}
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, ok := h.store.Login(req.Username, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	access, refresh, err := h.tokens.Pair(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info().Int64("user_id", u.ID).Msg("User logged in")
	writeJSON(w, http.StatusOK, tokenPair{Access: access, Refresh: refresh})
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "devserver.refresh")
	defer span.End()

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "refresh token is required")
		return
	}
	userID, err := h.tokens.Verify(req.Refresh, tokenRefresh)
	if err != nil {
		span.SetAttributes(attribute.Bool("refresh.rejected", true))
		writeError(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	access, err := h.tokens.Access(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	span.SetAttributes(attribute.Int64("user_id", userID))
	writeJSON(w, http.StatusOK, tokenPair{Access: access})
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.User(GetUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// wireStatus spells RUNNING the way the production backend does.
func wireStatus(s job.Status) string {
	if s == job.StatusRunning {
		return "PROCESSING"
	}
	return string(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type transcriptionPayload struct {
	ID             int64      `json:"id"`
	File           int64      `json:"file"`
	Status         string     `json:"status"`
	Language       *string    `json:"language"`
	TranscriptText *string    `json:"transcript_text"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ErrorMessage   *string    `json:"error_message"`
}

func toTranscriptionPayload(j TranscriptionJob) transcriptionPayload {
	return transcriptionPayload{
		ID:             j.ID,
		File:           j.FileID,
		Status:         wireStatus(j.Status),
		Language:       nullable(j.Language),
		TranscriptText: nullable(j.TranscriptText),
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
		ErrorMessage:   nullable(j.ErrorMessage),
	}
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

func toAnalysisPayload(a AnalysisRequest) analysisPayload {
	return analysisPayload{
		ID:               a.ID,
		TranscriptionJob: a.TranscriptionJobID,
		Type:             a.Type,
		UserPrompt:       nullable(a.UserPrompt),
		ResultText:       nullable(a.ResultText),
		Status:           wireStatus(a.Status),
		CreatedAt:        a.CreatedAt,
		CompletedAt:      a.CompletedAt,
		ErrorMessage:     nullable(a.ErrorMessage),
	}
}

func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) HandleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	fileID, err := queryID(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'file' parameter")
		return
	}
	jobs := h.store.Transcriptions(GetUserID(r.Context()), fileID)
	out := make([]transcriptionPayload, len(jobs))
	for i, j := range jobs {
		out[i] = toTranscriptionPayload(j)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleCreateTranscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID   int64  `json:"file_id"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == 0 {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}
	j, err := h.store.CreateTranscription(GetUserID(r.Context()), req.FileID, req.Language)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "file not found")
		return
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "You do not have permission to transcribe this file.")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info().Int64("job_id", j.ID).Int64("file_id", j.FileID).Msg("Transcription job created")
	writeJSON(w, http.StatusCreated, toTranscriptionPayload(j))
}

func (h *Handler) HandleGetTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	j, err := h.store.Transcription(GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toTranscriptionPayload(j))
}

func (h *Handler) HandleListAnalyses(w http.ResponseWriter, r *http.Request) {
	transcriptionID, err := queryID(r, "transcription_job")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'transcription_job' parameter")
		return
	}
	reqs := h.store.Analyses(GetUserID(r.Context()), transcriptionID)
	out := make([]analysisPayload, len(reqs))
	for i, a := range reqs {
		out[i] = toAnalysisPayload(a)
	}
	writeJSON(w, http.StatusOK, out)
}

var analysisTypes = map[string]bool{"SUMMARY": true, "REPORT": true, "TRANSLATION": true, "CUSTOM": true}

func (h *Handler) HandleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TranscriptionJobID int64  `json:"transcription_job_id"`
		Type               string `json:"type"`
		UserPrompt         string `json:"user_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TranscriptionJobID == 0 {
		writeError(w, http.StatusBadRequest, "transcription_job_id is required")
		return
	}
	if req.Type == "" {
		req.Type = "SUMMARY"
	}
	if !analysisTypes[req.Type] {
		writeError(w, http.StatusBadRequest, "invalid analysis type")
		return
	}
	a, err := h.store.CreateAnalysis(GetUserID(r.Context()), req.TranscriptionJobID, req.Type, req.UserPrompt)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "transcription job not found")
		return
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "You do not have permission to analyze this job.")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info().Int64("request_id", a.ID).Int64("transcription_job", a.TranscriptionJobID).Msg("Analysis requested")
	writeJSON(w, http.StatusCreated, toAnalysisPayload(a))
}

func (h *Handler) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	a, err := h.store.Analysis(GetUserID(r.Context()), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisPayload(a))
}

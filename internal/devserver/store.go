package devserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vnmchuo/transcribe-client/internal/job"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Pseudo   string `json:"pseudo"`
	password string
}

type File struct {
	ID      int64
	OwnerID int64
	Name    string
}

type TranscriptionJob struct {
	ID             int64
	FileID         int64
	Language       string
	Status         job.Status
	TranscriptText string
	ErrorMessage   string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

type AnalysisRequest struct {
	ID                 int64
	TranscriptionJobID int64
	Type               string
	UserPrompt         string
	Status             job.Status
	ResultText         string
	ErrorMessage       string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// Store keeps every dev backend record in memory.
type Store struct {
	clock clockwork.Clock

	mu             sync.Mutex
	seq            map[string]int64
	users          map[int64]*User
	files          map[int64]*File
	transcriptions map[int64]*TranscriptionJob
	analyses       map[int64]*AnalysisRequest
}

func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:          clock,
		seq:            make(map[string]int64),
		users:          make(map[int64]*User),
		files:          make(map[int64]*File),
		transcriptions: make(map[int64]*TranscriptionJob),
		analyses:       make(map[int64]*AnalysisRequest),
	}
}

// id hands out per-kind sequential IDs starting at 1.
func (s *Store) id(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

func (s *Store) AddUser(username, password string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: s.id("user"), Username: username, Email: username + "@example.com", Pseudo: username, password: password}
	s.users[u.ID] = u
	return u
}

func (s *Store) AddFile(ownerID int64, name string) *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &File{ID: s.id("file"), OwnerID: ownerID, Name: name}
	s.files[f.ID] = f
	return f
}

func (s *Store) Login(username, password string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username && u.password == password {
			out := *u
			return &out, true
		}
	}
	return nil, false
}

func (s *Store) User(id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *Store) ownsFileLocked(userID, fileID int64) error {
	f, ok := s.files[fileID]
	if !ok {
		return ErrNotFound
	}
	if f.OwnerID != userID {
		return ErrForbidden
	}
	return nil
}

func (s *Store) CreateTranscription(userID, fileID int64, language string) (TranscriptionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ownsFileLocked(userID, fileID); err != nil {
		return TranscriptionJob{}, err
	}
	j := &TranscriptionJob{
		ID:        s.id("transcription"),
		FileID:    fileID,
		Language:  language,
		Status:    job.StatusPending,
		CreatedAt: s.clock.Now(),
	}
	s.transcriptions[j.ID] = j
	return *j, nil
}

func (s *Store) Transcription(userID, id int64) (TranscriptionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.transcriptions[id]
	if !ok || s.ownsFileLocked(userID, j.FileID) != nil {
		return TranscriptionJob{}, ErrNotFound
	}
	return *j, nil
}

// Transcriptions lists the user's jobs, oldest first. fileID 0 lists all.
func (s *Store) Transcriptions(userID, fileID int64) []TranscriptionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TranscriptionJob{}
	for _, j := range s.transcriptions {
		if s.ownsFileLocked(userID, j.FileID) != nil {
			continue
		}
		if fileID != 0 && j.FileID != fileID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *Store) ownsTranscriptionLocked(userID, transcriptionID int64) error {
	j, ok := s.transcriptions[transcriptionID]
	if !ok {
		return ErrNotFound
	}
	return s.ownsFileLocked(userID, j.FileID)
}

func (s *Store) CreateAnalysis(userID, transcriptionID int64, typ, prompt string) (AnalysisRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ownsTranscriptionLocked(userID, transcriptionID); err != nil {
		return AnalysisRequest{}, err
	}
	a := &AnalysisRequest{
		ID:                 s.id("analysis"),
		TranscriptionJobID: transcriptionID,
		Type:               typ,
		UserPrompt:         prompt,
		Status:             job.StatusPending,
		CreatedAt:          s.clock.Now(),
	}
	s.analyses[a.ID] = a
	return *a, nil
}

func (s *Store) Analysis(userID, id int64) (AnalysisRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[id]
	if !ok || s.ownsTranscriptionLocked(userID, a.TranscriptionJobID) != nil {
		return AnalysisRequest{}, ErrNotFound
	}
	return *a, nil
}

// Analyses lists the user's requests, oldest first. transcriptionID 0 lists
// all.
func (s *Store) Analyses(userID, transcriptionID int64) []AnalysisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []AnalysisRequest{}
	for _, a := range s.analyses {
		if s.ownsTranscriptionLocked(userID, a.TranscriptionJobID) != nil {
			continue
		}
		if transcriptionID != 0 && a.TranscriptionJobID != transcriptionID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Advance moves every unfinished job one step: PENDING to RUNNING, RUNNING
// to COMPLETED (or FAILED for corrupt input). It returns how many jobs moved.
func (s *Store) Advance() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	moved := 0
	for _, j := range s.transcriptions {
		switch j.Status {
		case job.StatusPending:
			j.Status = job.StatusRunning
		case job.StatusRunning:
			name := ""
			if f := s.files[j.FileID]; f != nil {
				name = f.Name
			}
			if strings.Contains(strings.ToLower(name), "corrupt") {
				j.Status = job.StatusFailed
				j.ErrorMessage = "could not decode audio stream of " + name
			} else {
				j.Status = job.StatusCompleted
				j.TranscriptText = "Transcript of " + name + "."
			}
			j.CompletedAt = &now
		default:
			continue
		}
		moved++
	}
	for _, a := range s.analyses {
		switch a.Status {
		case job.StatusPending:
			a.Status = job.StatusRunning
		case job.StatusRunning:
			a.Status = job.StatusCompleted
			a.ResultText = analysisResult(a, s.transcriptions[a.TranscriptionJobID])
			a.CompletedAt = &now
		default:
			continue
		}
		moved++
	}
	return moved
}

func analysisResult(a *AnalysisRequest, t *TranscriptionJob) string {
	source := ""
	if t != nil {
		source = t.TranscriptText
	}
	switch a.Type {
	case "REPORT":
		return "Report: " + source
	case "TRANSLATION":
		return "Translation: " + source
	case "CUSTOM":
		return a.UserPrompt + ": " + source
	}
	return "Summary: " + source
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jetbot/interview-gateway/internal/auth"
	"github.com/jetbot/interview-gateway/internal/llm"
	"github.com/jetbot/interview-gateway/internal/store"
)

const defaultDurationMinutes = 30

type scheduleRequest struct {
	JobDescription  string     `json:"jd"`
	DifficultyLevel string     `json:"difficulty_level"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledTime   *time.Time `json:"scheduled_time"`
}

type scheduleResponse struct {
	Message       string    `json:"message"`
	ID            string    `json:"id"`
	Difficulty    string    `json:"difficulty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Questions     []string  `json:"questions"`
}

type framesRequest struct {
	Frames []string `json:"frames"`
}

func (s *server) handleScheduleInterview(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if !identity.Role.CanTakeInterview() {
		writeError(w, http.StatusForbidden, "Only students can schedule interviews")
		return
	}

	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.JobDescription = strings.TrimSpace(req.JobDescription)
	if req.JobDescription == "" {
		writeError(w, http.StatusBadRequest, "Job description is required")
		return
	}
	if req.DifficultyLevel == "" {
		req.DifficultyLevel = llm.DifficultyBeginner
	}
	if !llm.ValidDifficulty(req.DifficultyLevel) {
		writeError(w, http.StatusBadRequest, "difficulty_level must be beginner, medium or advanced")
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = defaultDurationMinutes
	}
	scheduled := time.Now().UTC()
	if req.ScheduledTime != nil {
		scheduled = req.ScheduledTime.UTC()
	}

	questions, err := s.deps.Questions.Generate(r.Context(), req.JobDescription, req.DifficultyLevel)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", identity.UserID).Msg("Question generation failed")
		writeError(w, http.StatusBadGateway, "Failed to generate interview questions")
		return
	}

	iv := &store.Interview{
		ID:              uuid.NewString(),
		StudentID:       identity.UserID,
		JobDescription:  req.JobDescription,
		DifficultyLevel: req.DifficultyLevel,
		ScheduledTime:   scheduled,
		DurationMinutes: req.DurationMinutes,
		Status:          store.StatusPending,
		Questions:       questions,
	}
	if err := s.deps.Store.CreateInterview(r.Context(), iv); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create interview")
		writeError(w, http.StatusInternalServerError, "Failed to schedule interview")
		return
	}

	s.logger.Info().
		Str("interview_id", iv.ID).
		Str("user_id", identity.UserID).
		Int("questions", len(questions)).
		Msg("Interview scheduled")
	writeJSON(w, http.StatusCreated, scheduleResponse{
		Message:       "Interview scheduled successfully",
		ID:            iv.ID,
		Difficulty:    iv.DifficultyLevel,
		ScheduledTime: iv.ScheduledTime,
		Questions:     questions,
	})
}

func (s *server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.loadInterview(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

func (s *server) handleUploadFrames(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.loadInterview(w, r)
	if !ok {
		return
	}
	if identityFrom(r.Context()).UserID != iv.StudentID {
		writeError(w, http.StatusForbidden, "Only the interview owner can upload frames")
		return
	}

	var req framesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	frames := req.Frames[:0]
	for _, f := range req.Frames {
		if strings.TrimSpace(f) != "" {
			frames = append(frames, f)
		}
	}
	if len(frames) == 0 {
		writeError(w, http.StatusBadRequest, "frames must contain at least one image")
		return
	}

	stored, err := s.deps.Store.AppendFrames(r.Context(), iv.ID, frames)
	if err != nil {
		s.logger.Error().Err(err).Str("interview_id", iv.ID).Msg("Failed to store frames")
		writeError(w, http.StatusInternalServerError, "Failed to store frames")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored": stored, "max": store.MaxFrames})
}

// loadInterview resolves the URL interview and checks the caller may read
// it. It writes the error response itself.
func (s *server) loadInterview(w http.ResponseWriter, r *http.Request) (*store.Interview, bool) {
	id := chi.URLParam(r, "interviewID")
	iv, err := s.deps.Store.GetInterview(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Interview not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("interview_id", id).Msg("Failed to load interview")
		writeError(w, http.StatusInternalServerError, "Failed to load interview")
		return nil, false
	}
	if !identityFrom(r.Context()).CanAccess(iv.StudentID) {
		writeError(w, http.StatusForbidden, auth.ErrForbidden.Error())
		return nil, false
	}
	return iv, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

package api

import (
	"errors"
	"net/http"

	"github.com/jetbot/interview-gateway/internal/report"
	"github.com/jetbot/interview-gateway/internal/store"
)

func (s *server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.loadInterview(w, r)
	if !ok {
		return
	}

	rep, created, err := s.deps.Reports.Create(r.Context(), iv.ID)
	var short *report.TranscriptTooShortError
	switch {
	case err == nil:
	case errors.As(err, &short):
		writeError(w, http.StatusBadRequest, short.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Interview not found")
		return
	case errors.Is(err, report.ErrAnalysisFailed):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		s.logger.Error().Err(err).Str("interview_id", iv.ID).Msg("Report creation failed")
		writeError(w, http.StatusInternalServerError, "Failed to create report")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, rep)
}

func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	iv, ok := s.loadInterview(w, r)
	if !ok {
		return
	}

	rep, err := s.deps.Reports.Get(r.Context(), iv.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("interview_id", iv.ID).Msg("Failed to load report")
		writeError(w, http.StatusInternalServerError, "Failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

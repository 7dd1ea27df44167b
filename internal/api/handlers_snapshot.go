package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/portfolio-ledger/internal/errors"
)

// parseDays reads the days query parameter; missing means the service default
func parseDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		return 0, apperrors.NewInvalidParameterError("days", "must be a positive integer")
	}
	return days, nil
}

// handleGetValueHistory handles GET /api/portfolio/value
func (s *Server) handleGetValueHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	days, err := parseDays(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	history, err := s.services.Snapshots.GetValueHistory(r.Context(), uid, days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// handleGetPerformance handles GET /api/portfolio/performance
func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	days, err := parseDays(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	report, err := s.services.Performance.GetPerformance(r.Context(), uid, days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleCreateSnapshot handles POST /api/portfolio/snapshots.
// 201 when today's snapshot was created by this call, 200 when it already existed.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	snapshot, created, err := s.services.Snapshots.CreateTodaySnapshot(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, snapshot)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fingerprint-core/internal/enrollment"
)

func (s *Server) handleStartEnrollment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, err := s.enrollment.Start(name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session":   id,
		"reader":    name,
		"remaining": enrollment.RequiredCaptures,
	})
}

// handleCaptureStep blocks for one capture. A rejected capture comes back
// as its classified error and the session stays open for a retry.
func (s *Server) handleCaptureStep(w http.ResponseWriter, r *http.Request) {
	res, err := s.enrollment.CaptureStep(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "session"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAbandonEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := s.enrollment.Abandon(chi.URLParam(r, "session")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

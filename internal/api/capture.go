package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fingerprint-core/internal/device"
)

// handleStartAll starts plain capture on every available reader.
func (s *Server) handleStartAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"started": nonNil(s.scheduler.StartAll())})
}

func (s *Server) handleStartOne(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.scheduler.StartOne(name, r.URL.Query().Get("session")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reader": name, "active": s.scheduler.IsActive(name)})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	s.scheduler.StopAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopOne(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.StopOne(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.registry.IsKnown(name) {
		s.writeDomainError(w, r, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name))
		return
	}
	mode, active := s.scheduler.Mode(name)
	writeJSON(w, http.StatusOK, map[string]any{
		"reader":             name,
		"active":             active,
		"mode":               mode,
		"consecutive_errors": s.scheduler.ConsecutiveErrors(name),
	})
}

// handleLastResult returns the most recent good capture. The image is
// base64 encoded by encoding/json.
func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, ok := s.scheduler.LastResult(name)
	if !ok {
		writeNotFound(w, "no capture result for reader "+name)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStartAttendance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.scheduler.StartAttendance(name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reader": name, "mode": "attendance"})
}

func (s *Server) handleStopAttendance(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.StopAttendance(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fingerprint-core/internal/device"
)

// readerStatus is the response of GET /readers/{name}.
type readerStatus struct {
	device.ReaderInfo
	Known             bool            `json:"known"`
	Reserved          bool            `json:"reserved"`
	CaptureActive     bool            `json:"capture_active"`
	Mode              device.TaskMode `json:"mode,omitempty"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
}

func (s *Server) handleListReaders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"readers":   s.registry.Infos(),
		"available": nonNil(s.registry.ListAvailable()),
	})
}

// handleRefreshReaders re-enumerates the attached readers.
func (s *Server) handleRefreshReaders(w http.ResponseWriter, r *http.Request) {
	names, err := s.registry.Refresh(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readers": nonNil(names)})
}

func (s *Server) handleGetReader(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.registry.Info(name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	mode, active := s.scheduler.Mode(name)
	writeJSON(w, http.StatusOK, readerStatus{
		ReaderInfo:        info,
		Known:             true,
		Reserved:          info.ReservedBy != "",
		CaptureActive:     active,
		Mode:              mode,
		ConsecutiveErrors: s.scheduler.ConsecutiveErrors(name),
	})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	session := r.URL.Query().Get("session")
	if err := s.registry.Reserve(name, session); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reader": name, "session": session})
}

// handleRelease clears the reservation on a reader. It is idempotent.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.registry.IsKnown(name) {
		s.writeDomainError(w, r, device.ErrDeviceNotFound)
		return
	}
	s.registry.Release(name)
	w.WriteHeader(http.StatusNoContent)
}

// handleReleaseSession drops whatever the session holds.
func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	name, released := s.registry.ReleaseBySession(chi.URLParam(r, "session"))
	writeJSON(w, http.StatusOK, map[string]any{"released": released, "reader": name})
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

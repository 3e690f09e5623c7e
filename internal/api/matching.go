package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fingerprint-core/internal/capture"
	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/matching"
)

func (s *Server) matchingEnabled(w http.ResponseWriter) bool {
	if s.engine == nil || s.gallery == nil || s.subjects == nil {
		writeError(w, http.StatusServiceUnavailable, "identification_unavailable", "matching not configured")
		return false
	}
	return true
}

// captureSample leases the reader for one capture and extracts a template.
// A reader reserved by another session is refused; the caller names its
// session with ?session=.
func (s *Server) captureSample(r *http.Request, name string) (matching.Template, error) {
	if owner, held := s.registry.ReservationOf(name); held && owner != r.URL.Query().Get("session") {
		return matching.Template{}, fmt.Errorf("%w: %s", device.ErrDeviceAlreadyReserved, name)
	}
	reader, release, err := s.registry.Lease(name)
	if err != nil {
		return matching.Template{}, err
	}
	out := capture.Run(r.Context(), reader, s.captureCfg)
	out.AfterSettled(release)
	if !out.Good() {
		return matching.Template{}, out.Err
	}
	return s.engine.ExtractTemplate(out.Image)
}

// handleVerify captures on a reader and compares the finger with one
// subject's templates.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !s.matchingEnabled(w) {
		return
	}
	name, id := chi.URLParam(r, "name"), chi.URLParam(r, "subjectID")
	if _, err := s.subjects.GetByID(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	sample, err := s.captureSample(r, name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	v, err := s.gallery.Verify(r.Context(), id, sample)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("verification", "reader", name, "subject", id, "matched", v.Matched, "score", v.Score)
	writeJSON(w, http.StatusOK, map[string]any{
		"reader":     name,
		"subject_id": v.Subject.ID,
		"name":       v.Subject.Name,
		"matched":    v.Matched,
		"score":      v.Score,
	})
}

// handleIdentify captures on a reader and searches the gallery.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if !s.matchingEnabled(w) {
		return
	}
	name := chi.URLParam(r, "name")

	sample, err := s.captureSample(r, name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	match, err := s.gallery.Identify(r.Context(), sample)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if match == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reader": name, "identified": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reader":       name,
		"identified":   true,
		"subject_id":   match.Subject.ID,
		"name":         match.Subject.Name,
		"external_ref": match.Subject.ExternalRef,
		"score":        match.Score,
	})
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fingerprint-core/internal/matching"
	"github.com/nerrad567/fingerprint-core/internal/subject"
)

// defaultCheckInLimit bounds GET /subjects/{id}/check-ins without ?limit.
const defaultCheckInLimit = 100

type createSubjectRequest struct {
	Name        string `json:"name"`
	ExternalRef string `json:"external_ref"`
}

// addTemplateRequest carries an enrollment artifact as returned by the
// final capture step.
type addTemplateRequest struct {
	Finger   string `json:"finger"`
	Format   string `json:"format"`
	Artifact []byte `json:"artifact"`
}

func (s *Server) subjectsEnabled(w http.ResponseWriter) bool {
	if s.subjects == nil {
		writeError(w, http.StatusServiceUnavailable, "subjects_unavailable", "subject storage not configured")
		return false
	}
	return true
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	subjects, err := s.subjects.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if subjects == nil {
		subjects = []subject.Subject{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subjects": subjects, "count": len(subjects)})
}

func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	var req createSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	sub := &subject.Subject{Name: req.Name, ExternalRef: req.ExternalRef}
	if err := s.subjects.Create(r.Context(), sub); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	sub, err := s.subjects.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleUpdateSubject replaces a subject's name and external reference.
func (s *Server) handleUpdateSubject(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	var req createSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	sub := &subject.Subject{ID: chi.URLParam(r, "id"), Name: req.Name, ExternalRef: req.ExternalRef}
	if err := s.subjects.Update(r.Context(), sub); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.refreshGallery(r)
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubject(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	if err := s.subjects.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.refreshGallery(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	var req addTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	tpl := &subject.Template{
		SubjectID: chi.URLParam(r, "id"),
		Finger:    req.Finger,
		Template:  matching.Template{Format: req.Format, Data: req.Artifact},
	}
	if err := s.subjects.AddTemplate(r.Context(), tpl); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.refreshGallery(r)
	writeJSON(w, http.StatusCreated, tpl)
}

// handleListTemplates lists a subject's template metadata. Template data
// never leaves the service.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	templates, err := s.subjects.ListSubjectTemplates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if templates == nil {
		templates = []subject.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	if err := s.subjects.DeleteTemplate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "templateID")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.refreshGallery(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCheckIns(w http.ResponseWriter, r *http.Request) {
	if !s.subjectsEnabled(w) {
		return
	}
	limit := defaultCheckInLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	if _, err := s.subjects.GetByID(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	checkIns, err := s.subjects.ListCheckIns(r.Context(), id, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if checkIns == nil {
		checkIns = []subject.CheckIn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"check_ins": checkIns, "count": len(checkIns)})
}

// refreshGallery reloads the identification gallery after a template
// change. A failed reload keeps the previous snapshot.
func (s *Server) refreshGallery(r *http.Request) {
	if s.gallery == nil {
		return
	}
	if err := s.gallery.Refresh(r.Context()); err != nil {
		s.logger.Error("refreshing identification gallery failed", "error", err)
	}
}

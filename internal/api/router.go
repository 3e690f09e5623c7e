package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fingerprint-core/internal/auth"
)

// healthTimeout bounds each dependency check of /health.
const healthTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/readers", func(r chi.Router) {
				r.With(s.require(auth.PermReaderRead)).Get("/", s.handleListReaders)
				r.With(s.require(auth.PermReaderOperate)).Post("/refresh", s.handleRefreshReaders)

				r.Route("/{name}", func(r chi.Router) {
					r.With(s.require(auth.PermReaderRead)).Get("/", s.handleGetReader)
					r.With(s.require(auth.PermReaderOperate)).Post("/reserve", s.handleReserve)
					r.With(s.require(auth.PermReaderOperate)).Post("/release", s.handleRelease)
				})
			})
			r.With(s.require(auth.PermReaderOperate)).Post("/sessions/{session}/release", s.handleReleaseSession)

			r.Route("/capture", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(s.require(auth.PermReaderOperate))
					r.Post("/start", s.handleStartAll)
					r.Post("/start/{name}", s.handleStartOne)
					r.Post("/stop", s.handleStopAll)
					r.Post("/stop/{name}", s.handleStopOne)
				})
				r.With(s.require(auth.PermReaderRead)).Get("/{name}/status", s.handleCaptureStatus)
				r.With(s.require(auth.PermReaderRead)).Get("/{name}/last", s.handleLastResult)
			})

			r.Route("/attendance/{name}", func(r chi.Router) {
				r.Use(s.require(auth.PermReaderOperate))
				r.Post("/start", s.handleStartAttendance)
				r.Post("/stop", s.handleStopAttendance)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.require(auth.PermReaderOperate))
				r.Post("/verify/{name}/{subjectID}", s.handleVerify)
				r.Post("/identify/{name}", s.handleIdentify)
			})

			r.Route("/enrollment", func(r chi.Router) {
				r.Use(s.require(auth.PermEnroll))
				r.Delete("/sessions/{session}", s.handleAbandonEnrollment)
				r.Post("/{name}", s.handleStartEnrollment)
				r.Post("/{name}/{session}/capture", s.handleCaptureStep)
			})

			r.Route("/subjects", func(r chi.Router) {
				r.With(s.require(auth.PermSubjectRead)).Get("/", s.handleListSubjects)
				r.With(s.require(auth.PermSubjectManage)).Post("/", s.handleCreateSubject)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.require(auth.PermSubjectRead)).Get("/", s.handleGetSubject)
					r.With(s.require(auth.PermSubjectManage)).Put("/", s.handleUpdateSubject)
					r.With(s.require(auth.PermSubjectManage)).Delete("/", s.handleDeleteSubject)
					r.With(s.require(auth.PermSubjectRead)).Get("/templates", s.handleListTemplates)
					r.With(s.require(auth.PermSubjectManage)).Post("/templates", s.handleAddTemplate)
					r.With(s.require(auth.PermSubjectManage)).Delete("/templates/{templateID}", s.handleDeleteTemplate)
					r.With(s.require(auth.PermSubjectRead)).Get("/check-ins", s.handleListCheckIns)
				})
			})

			r.With(s.require(auth.PermReaderRead)).Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports liveness and the state of each dependency. Any
// failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	status, code := "ok", http.StatusOK

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"readers": len(s.registry.Names()),
		"checks":  checks,
	})
}

// wsPath is the configured WebSocket route, "/ws" when unset.
func (s *Server) wsPath() string {
	if p := s.hub.cfg.Path; strings.HasPrefix(p, "/") {
		return p
	}
	return "/ws"
}

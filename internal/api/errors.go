package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/enrollment"
	"github.com/nerrad567/fingerprint-core/internal/matching"
	"github.com/nerrad567/fingerprint-core/internal/scheduler"
	"github.com/nerrad567/fingerprint-core/internal/subject"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
)

// domainErrors maps classified domain failures to HTTP. Order matters only
// for errors that wrap more than one sentinel; the first match wins.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{device.ErrDeviceNotFound, http.StatusNotFound, "device_not_found"},
	{device.ErrDeviceAlreadyReserved, http.StatusConflict, "device_already_reserved"},
	{device.ErrCaptureActive, http.StatusConflict, "capture_active"},
	{device.ErrDeviceBusyTimeout, http.StatusServiceUnavailable, "device_busy_timeout"},
	{device.ErrNoFingerPresented, http.StatusUnprocessableEntity, "no_finger_presented"},
	{device.ErrQualityInsufficient, http.StatusUnprocessableEntity, "quality_insufficient"},
	{device.ErrOperationCancelled, http.StatusConflict, "operation_cancelled"},
	{device.ErrDeviceFault, http.StatusBadGateway, "device_fault"},
	{device.ErrIncompatible, http.StatusUnprocessableEntity, "device_incompatible"},
	{device.ErrEmptySession, http.StatusBadRequest, "empty_session"},
	{enrollment.ErrInvalidSession, http.StatusNotFound, "invalid_session"},
	{scheduler.ErrTooManyConsecutiveErrors, http.StatusServiceUnavailable, "too_many_consecutive_errors"},
	{scheduler.ErrWorkerPoolExhausted, http.StatusServiceUnavailable, "worker_pool_exhausted"},
	{scheduler.ErrNoIdentifier, http.StatusServiceUnavailable, "identification_unavailable"},
	{matching.ErrExtractionFailed, http.StatusUnprocessableEntity, "extraction_failed"},
	{subject.ErrSubjectNotFound, http.StatusNotFound, "subject_not_found"},
	{subject.ErrTemplateNotFound, http.StatusNotFound, "template_not_found"},
	{subject.ErrNotEnrolled, http.StatusUnprocessableEntity, "subject_not_enrolled"},
	{subject.ErrSubjectExists, http.StatusConflict, "subject_exists"},
	{subject.ErrInvalidSubject, http.StatusBadRequest, ErrCodeValidation},
	{subject.ErrInvalidTemplate, http.StatusBadRequest, ErrCodeValidation},
}

// classify returns the status and machine code for err.
func classify(err error) (int, string) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, d.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// writeDomainError writes err using its classification. Unclassified
// errors are logged and hidden behind a generic message.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// Package subject stores enrolled people and identifies them by fingerprint.
//
// Templates are sealed before they are written and opened when the
// identification gallery is loaded. The gallery keeps the opened templates
// in memory and answers identification queries through the matching engine.
package subject

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/matching"
)

// Errors for the subject package.
var (
	// ErrSubjectNotFound is returned when a subject id does not exist.
	ErrSubjectNotFound = errors.New("subject: not found")

	// ErrSubjectExists is returned when the id or external reference is taken.
	ErrSubjectExists = errors.New("subject: already exists")

	// ErrInvalidSubject is returned when subject validation fails.
	ErrInvalidSubject = errors.New("subject: invalid")

	// ErrInvalidTemplate is returned when a template is empty or untagged.
	ErrInvalidTemplate = errors.New("subject: invalid template")

	// ErrTemplateNotFound is returned when a template id does not exist for
	// the subject.
	ErrTemplateNotFound = errors.New("subject: template not found")

	// ErrNotEnrolled is returned when a subject has no templates to verify against.
	ErrNotEnrolled = errors.New("subject: no templates enrolled")
)

// maxNameLength bounds subject names.
const maxNameLength = 200

// Subject is an enrolled person.
type Subject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the subject's fields.
func (s *Subject) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubject)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidSubject, maxNameLength)
	}
	return nil
}

// Template is one stored enrollment artifact of a subject.
type Template struct {
	ID        string            `json:"id"`
	SubjectID string            `json:"subject_id"`
	Finger    string            `json:"finger"`
	Template  matching.Template `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks the template's fields.
func (t *Template) Validate() error {
	if t.SubjectID == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidTemplate)
	}
	if t.Template.Format == "" || len(t.Template.Data) == 0 {
		return fmt.Errorf("%w: format and data are required", ErrInvalidTemplate)
	}
	return nil
}

// CheckIn is one attendance identification.
type CheckIn struct {
	ID        int64     `json:"id"`
	SubjectID string    `json:"subject_id"`
	Reader    string    `json:"reader"`
	Score     int       `json:"score"`
	At        time.Time `json:"checked_in_at"`
}

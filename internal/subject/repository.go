package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/fingerprint-core/internal/matching"
)

// Repository defines subject persistence.
type Repository interface {
	// Create inserts a subject, assigning an id when empty.
	// Returns ErrSubjectExists on a duplicate id or external reference.
	Create(ctx context.Context, s *Subject) error

	// GetByID returns ErrSubjectNotFound if the subject does not exist.
	GetByID(ctx context.Context, id string) (*Subject, error)

	// List returns all subjects ordered by name.
	List(ctx context.Context) ([]Subject, error)

	// Update changes a subject's name and external reference.
	// Returns ErrSubjectNotFound or ErrSubjectExists.
	Update(ctx context.Context, s *Subject) error

	// Delete removes a subject with its templates and check-ins.
	Delete(ctx context.Context, id string) error

	// AddTemplate stores a sealed template for an existing subject.
	AddTemplate(ctx context.Context, t *Template) error

	// ListTemplates returns every stored template, opened.
	ListTemplates(ctx context.Context) ([]Template, error)

	// ListSubjectTemplates returns the opened templates of one subject.
	ListSubjectTemplates(ctx context.Context, subjectID string) ([]Template, error)

	// DeleteTemplate removes one template of a subject.
	// Returns ErrTemplateNotFound if it does not belong to the subject.
	DeleteTemplate(ctx context.Context, subjectID, templateID string) error

	// RecordCheckIn appends an attendance check-in.
	RecordCheckIn(ctx context.Context, c *CheckIn) error

	// ListCheckIns returns a subject's most recent check-ins, newest first.
	ListCheckIns(ctx context.Context, subjectID string, limit int) ([]CheckIn, error)
}

// Sealer encrypts templates at rest.
type Sealer interface {
	Seal(plaintext, additional []byte) ([]byte, error)
	Open(sealed, additional []byte) ([]byte, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	sealer Sealer
	now    func() time.Time
}

// NewSQLiteRepository creates a repository sealing templates with sealer.
func NewSQLiteRepository(db *sql.DB, sealer Sealer) *SQLiteRepository {
	return &SQLiteRepository{
		db:     db,
		sealer: sealer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Repository.
func (r *SQLiteRepository) Create(ctx context.Context, s *Subject) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Name = strings.TrimSpace(s.Name)
	now := r.now()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name, external_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, nullString(s.ExternalRef), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrSubjectExists, s.ID)
		}
		return fmt.Errorf("inserting subject: %w", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Subject, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, external_ref, created_at, updated_at
		FROM subjects WHERE id = ?`, id)

	s, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying subject: %w", err)
	}
	return s, nil
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context) ([]Subject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, external_ref, created_at, updated_at
		FROM subjects ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subject: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subjects: %w", err)
	}
	return out, nil
}

// Update implements Repository. CreatedAt is reloaded from the store.
func (r *SQLiteRepository) Update(ctx context.Context, s *Subject) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.Name = strings.TrimSpace(s.Name)
	now := r.now()

	res, err := r.db.ExecContext(ctx, `
		UPDATE subjects SET name = ?, external_ref = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, nullString(s.ExternalRef), formatTime(now), s.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: external reference %s", ErrSubjectExists, s.ExternalRef)
		}
		return fmt.Errorf("updating subject: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, s.ID)
	}

	stored, err := r.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	*s = *stored
	return nil
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM subjects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting subject: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	return nil
}

// AddTemplate implements Repository. The template id is used as
// additional authenticated data so a sealed blob only opens on its own row.
func (r *SQLiteRepository) AddTemplate(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := r.GetByID(ctx, t.SubjectID); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Finger == "" {
		t.Finger = "unknown"
	}
	t.CreatedAt = r.now()

	sealed, err := r.sealer.Seal(t.Template.Data, []byte(t.ID))
	if err != nil {
		return fmt.Errorf("sealing template: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO subject_templates (id, subject_id, finger, format, sealed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubjectID, t.Finger, t.Template.Format, sealed, formatTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: template %s", ErrSubjectExists, t.ID)
		}
		return fmt.Errorf("inserting template: %w", err)
	}
	return nil
}

// ListTemplates implements Repository.
func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]Template, error) {
	return r.queryTemplates(ctx, `
		SELECT id, subject_id, finger, format, sealed, created_at
		FROM subject_templates ORDER BY created_at, id`)
}

// ListSubjectTemplates implements Repository.
func (r *SQLiteRepository) ListSubjectTemplates(ctx context.Context, subjectID string) ([]Template, error) {
	if _, err := r.GetByID(ctx, subjectID); err != nil {
		return nil, err
	}
	return r.queryTemplates(ctx, `
		SELECT id, subject_id, finger, format, sealed, created_at
		FROM subject_templates WHERE subject_id = ? ORDER BY created_at, id`, subjectID)
}

// DeleteTemplate implements Repository.
func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, subjectID, templateID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM subject_templates WHERE id = ? AND subject_id = ?", templateID, subjectID)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	return nil
}

func (r *SQLiteRepository) queryTemplates(ctx context.Context, query string, args ...any) ([]Template, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var (
			t       Template
			sealed  []byte
			created string
		)
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.Finger, &t.Template.Format, &sealed, &created); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		t.Template.Data, err = r.sealer.Open(sealed, []byte(t.ID))
		if err != nil {
			return nil, fmt.Errorf("opening template %s: %w", t.ID, err)
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	return out, nil
}

// RecordCheckIn implements Repository.
func (r *SQLiteRepository) RecordCheckIn(ctx context.Context, c *CheckIn) error {
	if c.At.IsZero() {
		c.At = r.now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO check_ins (subject_id, reader, score, checked_in_at)
		VALUES (?, ?, ?, ?)`,
		c.SubjectID, c.Reader, c.Score, formatTime(c.At),
	)
	if err != nil {
		return fmt.Errorf("inserting check-in: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// ListCheckIns implements Repository.
func (r *SQLiteRepository) ListCheckIns(ctx context.Context, subjectID string, limit int) ([]CheckIn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, reader, score, checked_in_at
		FROM check_ins WHERE subject_id = ?
		ORDER BY checked_in_at DESC, id DESC LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying check-ins: %w", err)
	}
	defer rows.Close()

	var out []CheckIn
	for rows.Next() {
		var (
			c  CheckIn
			at string
		)
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.Reader, &c.Score, &at); err != nil {
			return nil, fmt.Errorf("scanning check-in: %w", err)
		}
		c.At = parseTime(at)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check-ins: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*Subject, error) {
	var (
		s                Subject
		ref              sql.NullString
		created, updated string
	)
	if err := row.Scan(&s.ID, &s.Name, &ref, &created, &updated); err != nil {
		return nil, err
	}
	s.ExternalRef = ref.String
	s.CreatedAt = parseTime(created)
	s.UpdatedAt = parseTime(updated)
	return &s, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // written by formatTime
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueConstraintError reports whether err is a SQLite UNIQUE or
// PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// templatesOf converts stored templates into the engine's candidate list.
func templatesOf(ts []Template) []matching.Template {
	out := make([]matching.Template, len(ts))
	for i, t := range ts {
		out[i] = t.Template
	}
	return out
}

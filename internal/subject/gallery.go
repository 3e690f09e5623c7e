package subject

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/fingerprint-core/internal/matching"
)

// Logger is the logging interface used by the gallery.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Match is a successful identification.
type Match struct {
	Subject Subject
	Score   int
}

// Verification is the result of a one-to-one comparison. Score is the best
// score over the subject's templates.
type Verification struct {
	Subject Subject
	Matched bool
	Score   int
}

// Gallery holds the opened templates of every subject and identifies
// samples against them. Refresh must be called after templates change.
type Gallery struct {
	repo       Repository
	engine     matching.Engine
	threshold  int
	maxResults int
	logger     Logger

	mu        sync.RWMutex
	templates []matching.Template
	owners    []string // owners[i] is the subject of templates[i]
	subjects  map[string]Subject
}

// NewGallery creates an empty gallery. A non-positive threshold selects
// matching.DefaultThreshold; a non-positive maxResults selects 1.
func NewGallery(repo Repository, engine matching.Engine, threshold, maxResults int) *Gallery {
	if threshold <= 0 {
		threshold = matching.DefaultThreshold
	}
	if maxResults <= 0 {
		maxResults = 1
	}
	return &Gallery{
		repo:       repo,
		engine:     engine,
		threshold:  threshold,
		maxResults: maxResults,
		logger:     noopLogger{},
		subjects:   make(map[string]Subject),
	}
}

// SetLogger sets the logger for the gallery.
func (g *Gallery) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Refresh reloads subjects and templates from the repository.
func (g *Gallery) Refresh(ctx context.Context) error {
	subjects, err := g.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading subjects: %w", err)
	}
	stored, err := g.repo.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	byID := make(map[string]Subject, len(subjects))
	for _, s := range subjects {
		byID[s.ID] = s
	}
	owners := make([]string, len(stored))
	for i, t := range stored {
		owners[i] = t.SubjectID
	}

	g.mu.Lock()
	g.subjects = byID
	g.templates = templatesOf(stored)
	g.owners = owners
	g.mu.Unlock()

	g.logger.Info("identification gallery loaded", "subjects", len(byID), "templates", len(stored))
	return nil
}

// Len returns the number of loaded templates.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.templates)
}

// Identify returns the best matching subject for sample, or nil when no
// template scores below the threshold. Stored templates the engine cannot
// compare against sample are logged and skipped.
func (g *Gallery) Identify(_ context.Context, sample matching.Template) (*Match, error) {
	g.mu.RLock()
	templates, owners, subjects := g.templates, g.owners, g.subjects
	g.mu.RUnlock()

	if len(templates) == 0 {
		return nil, nil
	}

	hits, err := g.engine.Identify(sample, templates, g.threshold, g.maxResults)
	if errors.Is(err, matching.ErrFormatMismatch) {
		hits, err = g.compareEach(sample, templates, owners)
	}
	if err != nil {
		return nil, fmt.Errorf("identifying: %w", err)
	}
	for _, h := range hits {
		if h.Index < 0 || h.Index >= len(owners) {
			g.logger.Warn("engine returned out-of-range candidate", "index", h.Index)
			continue
		}
		s, ok := subjects[owners[h.Index]]
		if !ok {
			continue
		}
		return &Match{Subject: s, Score: h.Score}, nil
	}
	return nil, nil
}

// compareEach scores sample against every template one by one, skipping
// the ones that do not compare.
func (g *Gallery) compareEach(sample matching.Template, templates []matching.Template, owners []string) ([]matching.Candidate, error) {
	var hits []matching.Candidate
	skipped := 0
	for i, t := range templates {
		score, err := g.engine.Compare(sample, t)
		if errors.Is(err, matching.ErrFormatMismatch) {
			skipped++
			g.logger.Debug("skipping template that does not compare", "subject", owners[i], "format", t.Format, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if score < g.threshold {
			hits = append(hits, matching.Candidate{Index: i, Score: score})
		}
	}
	if skipped > 0 {
		g.logger.Warn("templates skipped during identification", "skipped", skipped, "templates", len(templates))
	}
	slices.SortStableFunc(hits, func(a, b matching.Candidate) int { return a.Score - b.Score })
	if len(hits) > g.maxResults {
		hits = hits[:g.maxResults]
	}
	return hits, nil
}

// Verify compares sample with the stored templates of one subject. It
// reads the repository directly so a template added since the last Refresh
// is already used. ErrNotEnrolled is returned when the subject has no
// template the engine can compare with sample.
func (g *Gallery) Verify(ctx context.Context, subjectID string, sample matching.Template) (*Verification, error) {
	s, err := g.repo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	stored, err := g.repo.ListSubjectTemplates(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	v := &Verification{Subject: *s}
	compared := 0
	for _, t := range stored {
		score, err := g.engine.Compare(sample, t.Template)
		if errors.Is(err, matching.ErrFormatMismatch) {
			g.logger.Debug("skipping template that does not compare", "subject", subjectID, "template", t.ID, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("comparing template %s: %w", t.ID, err)
		}
		if compared == 0 || score < v.Score {
			v.Score = score
		}
		compared++
	}
	if compared == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotEnrolled, subjectID)
	}
	v.Matched = v.Score < g.threshold
	return v, nil
}

// RecordCheckIn stores an attendance check-in for an identified subject.
func (g *Gallery) RecordCheckIn(ctx context.Context, subjectID, reader string, score int) error {
	return g.repo.RecordCheckIn(ctx, &CheckIn{SubjectID: subjectID, Reader: reader, Score: score})
}

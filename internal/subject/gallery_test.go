package subject

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/fingerprint-core/internal/matching"
)

func enrollSubject(t *testing.T, repo *SQLiteRepository, engine matching.Engine, name string, image []byte) *Subject {
	t.Helper()
	ctx := context.Background()

	s := &Subject{Name: name}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	tpl, err := engine.ExtractTemplate(image)
	if err != nil {
		t.Fatalf("ExtractTemplate() error = %v", err)
	}
	artifact, err := engine.BuildEnrollmentArtifact([]matching.Template{tpl})
	if err != nil {
		t.Fatalf("BuildEnrollmentArtifact() error = %v", err)
	}
	err = repo.AddTemplate(ctx, &Template{
		SubjectID: s.ID,
		Template:  matching.Template{Format: tpl.Format, Data: artifact},
	})
	if err != nil {
		t.Fatalf("AddTemplate() error = %v", err)
	}
	return s
}

func TestGallery_Identify(t *testing.T) {
	repo := newTestRepo(t)
	engine := matching.NewReferenceEngine()
	ctx := context.Background()

	ada := enrollSubject(t, repo, engine, "Ada", []byte("ada-finger"))
	enrollSubject(t, repo, engine, "Bob", []byte("bob-finger"))

	g := NewGallery(repo, engine, 0, 0)
	if err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}

	sample, _ := engine.ExtractTemplate([]byte("ada-finger")) //nolint:errcheck // non-empty image
	m, err := g.Identify(ctx, sample)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if m == nil {
		t.Fatal("Identify() = nil, want Ada")
	}
	if m.Subject.ID != ada.ID {
		t.Errorf("Identify() subject = %q, want %q", m.Subject.Name, ada.Name)
	}

	unknown, _ := engine.ExtractTemplate([]byte("stranger")) //nolint:errcheck // non-empty image
	m, err = g.Identify(ctx, unknown)
	if err != nil {
		t.Fatalf("Identify(unknown) error = %v", err)
	}
	if m != nil {
		t.Errorf("Identify(unknown) = %+v, want nil", m)
	}
}

func TestGallery_IdentifySkipsTemplatesThatDoNotCompare(t *testing.T) {
	repo := newTestRepo(t)
	engine := matching.NewReferenceEngine()
	ctx := context.Background()

	legacy := &Subject{Name: "Legacy"}
	if err := repo.Create(ctx, legacy); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.AddTemplate(ctx, &Template{
		SubjectID: legacy.ID,
		Template:  matching.Template{Format: matching.FormatISO1979, Data: []byte("iso-record")},
	})
	if err != nil {
		t.Fatalf("AddTemplate() error = %v", err)
	}
	ada := enrollSubject(t, repo, engine, "Ada", []byte("ada-finger"))

	g := NewGallery(repo, engine, 0, 0)
	if err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	sample, _ := engine.ExtractTemplate([]byte("ada-finger")) //nolint:errcheck // non-empty image
	m, err := g.Identify(ctx, sample)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if m == nil || m.Subject.ID != ada.ID {
		t.Errorf("Identify() = %+v, want Ada", m)
	}

	stranger, _ := engine.ExtractTemplate([]byte("stranger")) //nolint:errcheck // non-empty image
	if m, err := g.Identify(ctx, stranger); err != nil || m != nil {
		t.Errorf("Identify(stranger) = (%+v, %v), want (nil, nil)", m, err)
	}
}

func TestGallery_EmptyAndRefresh(t *testing.T) {
	repo := newTestRepo(t)
	engine := matching.NewReferenceEngine()
	ctx := context.Background()

	g := NewGallery(repo, engine, 0, 0)
	sample, _ := engine.ExtractTemplate([]byte("late")) //nolint:errcheck // non-empty image

	m, err := g.Identify(ctx, sample)
	if err != nil || m != nil {
		t.Fatalf("Identify() on empty gallery = (%v, %v), want (nil, nil)", m, err)
	}

	enrollSubject(t, repo, engine, "Late", []byte("late"))
	if m, _ := g.Identify(ctx, sample); m != nil {
		t.Error("gallery should not see templates before Refresh")
	}
	if err := g.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if m, _ := g.Identify(ctx, sample); m == nil {
		t.Error("gallery should identify after Refresh")
	}
}

func TestGallery_RecordCheckIn(t *testing.T) {
	repo := newTestRepo(t)
	engine := matching.NewReferenceEngine()
	ctx := context.Background()

	s := enrollSubject(t, repo, engine, "Checker", []byte("c"))
	g := NewGallery(repo, engine, 0, 0)

	if err := g.RecordCheckIn(ctx, s.ID, "lobby", 0); err != nil {
		t.Fatalf("RecordCheckIn() error = %v", err)
	}
	list, err := repo.ListCheckIns(ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("ListCheckIns() error = %v", err)
	}
	if len(list) != 1 || list[0].Reader != "lobby" {
		t.Errorf("ListCheckIns() = %+v, want one lobby check-in", list)
	}
}

func TestGallery_Verify(t *testing.T) {
	repo := newTestRepo(t)
	engine := matching.NewReferenceEngine()
	ctx := context.Background()

	ada := enrollSubject(t, repo, engine, "Ada", []byte("ada-finger"))
	g := NewGallery(repo, engine, 0, 0)

	// No Refresh: Verify reads the repository.
	sample, _ := engine.ExtractTemplate([]byte("ada-finger")) //nolint:errcheck // non-empty image
	v, err := g.Verify(ctx, ada.ID, sample)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !v.Matched || v.Subject.ID != ada.ID {
		t.Errorf("Verify() = %+v, want a match for Ada", v)
	}

	other, _ := engine.ExtractTemplate([]byte("bob-finger")) //nolint:errcheck // non-empty image
	v, err = g.Verify(ctx, ada.ID, other)
	if err != nil {
		t.Fatalf("Verify(other finger) error = %v", err)
	}
	if v.Matched {
		t.Errorf("Verify(other finger) = %+v, want no match", v)
	}

	if _, err := g.Verify(ctx, "nope", sample); !errors.Is(err, ErrSubjectNotFound) {
		t.Errorf("Verify(unknown) error = %v, want ErrSubjectNotFound", err)
	}

	bare := &Subject{Name: "Bare"}
	if err := repo.Create(ctx, bare); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := g.Verify(ctx, bare.ID, sample); !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("Verify(no templates) error = %v, want ErrNotEnrolled", err)
	}

	iso := matching.Template{Format: matching.FormatISO1979, Data: sample.Data}
	if _, err := g.Verify(ctx, ada.ID, iso); !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("Verify(other format) error = %v, want ErrNotEnrolled", err)
	}
}

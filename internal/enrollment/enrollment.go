// Package enrollment accumulates good captures into an enrollment artifact.
//
// A session is ACTIVE from Start until its RequiredCaptures-th accepted
// capture, at which point the matching engine consolidates the ordered
// templates into one artifact and the session is removed. Rejected
// captures leave the session untouched so the caller can retry at once.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fingerprint-core/internal/capture"
	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/matching"
)

// RequiredCaptures is the number of accepted captures per enrollment.
const RequiredCaptures = 4

// ErrInvalidSession is returned for unknown, finished or abandoned sessions.
var ErrInvalidSession = errors.New("enrollment: invalid session")

// Logger is the logging interface used by the store.
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

// Readers is the part of the device registry the store needs.
type Readers interface {
	IsKnown(name string) bool
	Lease(name string) (device.Reader, func(), error)
}

// Metrics receives per-step telemetry.
type Metrics interface {
	WriteEnrollmentStep(reader, quality string, remaining int, complete bool)
}

// Config holds the enrollment settings.
type Config struct {
	// Capture is used for each step. Its Timeout bounds one step.
	Capture capture.Config
	// MinScore rejects good captures whose reader score is lower.
	// Zero accepts any good capture.
	MinScore int
}

// Result is the outcome of an accepted capture step.
type Result struct {
	Complete  bool   `json:"complete"`
	Remaining int    `json:"remaining"`
	Artifact  []byte `json:"artifact,omitempty"`
	// Format tags Artifact.
	Format string `json:"format,omitempty"`
}

// session is one ACTIVE enrollment. Its mutex serialises capture steps.
type session struct {
	mu        sync.Mutex
	id        string
	reader    string
	templates []matching.Template
	done      bool
	started   time.Time
}

// Store holds the active enrollment sessions.
type Store struct {
	readers Readers
	engine  matching.Engine
	cfg     Config
	logger  Logger
	metrics Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

// NewStore creates an empty store.
func NewStore(readers Readers, engine matching.Engine, cfg Config) *Store {
	return &Store{
		readers:  readers,
		engine:   engine,
		cfg:      cfg,
		logger:   noopLogger{},
		sessions: make(map[string]*session),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the telemetry sink.
func (s *Store) SetMetrics(m Metrics) {
	s.metrics = m
}

// Start opens an ACTIVE session on reader and returns its id.
func (s *Store) Start(reader string) (string, error) {
	if !s.readers.IsKnown(reader) {
		return "", fmt.Errorf("%w: %s", device.ErrDeviceNotFound, reader)
	}

	sess := &session{
		id:      uuid.NewString(),
		reader:  reader,
		started: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("enrollment started", "reader", reader, "session", sess.id)
	return sess.id, nil
}

// CaptureStep runs one capture on reader for session id.
//
// A capture that is not good, or scores below MinScore, returns its
// classified error and leaves the session unchanged. The RequiredCaptures-th
// accepted capture completes the session and returns the artifact.
func (s *Store) CaptureStep(ctx context.Context, reader, id string) (Result, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Result{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// Re-check under the session lock: a concurrent step may have finished it.
	if sess.done {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidSession, id)
	}

	r, release, err := s.readers.Lease(reader)
	if err != nil {
		return Result{}, err
	}
	out := capture.Run(ctx, r, s.cfg.Capture)
	// The lease outlives an abandoned capture until the reader returns.
	out.AfterSettled(release)

	if err := s.accept(out); err != nil {
		s.record(reader, out, RequiredCaptures-len(sess.templates), false)
		s.logger.Debug("enrollment capture rejected", "reader", reader, "session", id, "quality", out.Quality, "error", err)
		return Result{}, err
	}

	tpl, err := s.engine.ExtractTemplate(out.Image)
	if err != nil {
		s.record(reader, out, RequiredCaptures-len(sess.templates), false)
		return Result{}, fmt.Errorf("%w: %w", device.ErrQualityInsufficient, err)
	}
	sess.templates = append(sess.templates, tpl)

	remaining := RequiredCaptures - len(sess.templates)
	if remaining > 0 {
		s.record(reader, out, remaining, false)
		return Result{Remaining: remaining}, nil
	}

	// Complete: the session leaves the store whatever the artifact outcome.
	sess.done = true
	s.remove(id)

	artifact, err := s.engine.BuildEnrollmentArtifact(sess.templates)
	if err != nil {
		s.logger.Error("building enrollment artifact failed", "reader", reader, "session", id, "error", err)
		return Result{}, fmt.Errorf("building enrollment artifact: %w", err)
	}
	s.record(reader, out, 0, true)
	s.logger.Info("enrollment complete", "reader", reader, "session", id, "duration", time.Since(sess.started))

	return Result{Complete: true, Artifact: artifact, Format: sess.templates[0].Format}, nil
}

// accept maps a capture outcome onto the step's verdict.
func (s *Store) accept(out capture.Outcome) error {
	if !out.Good() {
		if out.Err != nil {
			return out.Err
		}
		return device.ErrQualityInsufficient
	}
	if s.cfg.MinScore > 0 && out.Score < s.cfg.MinScore {
		return fmt.Errorf("%w: score %d below %d", device.ErrQualityInsufficient, out.Score, s.cfg.MinScore)
	}
	return nil
}

// Abandon removes an ACTIVE session.
func (s *Store) Abandon(id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.done {
		return fmt.Errorf("%w: %s", ErrInvalidSession, id)
	}
	sess.done = true
	s.remove(id)

	s.logger.Info("enrollment abandoned", "reader", sess.reader, "session", id, "accepted", len(sess.templates))
	return nil
}

// Remaining returns how many captures session id still needs.
func (s *Store) Remaining(id string) (int, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return RequiredCaptures - len(sess.templates), nil
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, id)
	}
	return sess, nil
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) record(reader string, out capture.Outcome, remaining int, complete bool) {
	if s.metrics != nil {
		s.metrics.WriteEnrollmentStep(reader, string(out.Quality), remaining, complete)
	}
}

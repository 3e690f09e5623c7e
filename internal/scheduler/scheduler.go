// Package scheduler runs continuous capture loops on readers.
//
// Each started reader gets one loop on a bounded worker pool. A loop
// long-polls the reader, publishes every good capture and, in attendance
// mode, identifies the finger and publishes the result. Loops stop on
// request, on a cancelled capture, on a hard device fault, or when the
// circuit breaker trips after MaxConsecutiveErrors failures in a row.
//
// Task slots and reservations live in the device registry, so starting a
// loop is atomic with respect to reserve, release and disconnect.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fingerprint-core/internal/capture"
	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/events"
	"github.com/nerrad567/fingerprint-core/internal/matching"
	"github.com/nerrad567/fingerprint-core/internal/subject"
)

// Defaults applied to zero Config fields.
const (
	DefaultPoolSize             = 10
	DefaultMaxConsecutiveErrors = 5
	DefaultErrorDelay           = 500 * time.Millisecond
	DefaultIdleDelay            = 100 * time.Millisecond
	DefaultStopGrace            = 5 * time.Second
)

// attendancePrefix prefixes the session that holds an attendance reservation.
const attendancePrefix = "attendance:"

// Logger is the logging interface used by the scheduler.
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

// Identifier looks a sample template up among enrolled subjects. A nil
// match with a nil error means no subject matched.
type Identifier interface {
	Identify(ctx context.Context, sample matching.Template) (*subject.Match, error)
}

// CheckInRecorder stores attendance check-ins.
type CheckInRecorder interface {
	RecordCheckIn(ctx context.Context, subjectID, reader string, score int) error
}

// Metrics receives per-iteration telemetry.
type Metrics interface {
	WriteCaptureOutcome(reader, mode, quality string, consecutiveErrors int)
	WriteIdentification(reader string, identified bool, score int)
}

// Config holds the scheduler settings.
type Config struct {
	// Capture is used for each loop iteration. A zero Timeout long-polls
	// until a finger arrives or the loop is stopped.
	Capture capture.Config

	PoolSize             int
	MaxConsecutiveErrors int
	ErrorDelay           time.Duration
	IdleDelay            time.Duration
	StopGrace            time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = DefaultErrorDelay
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = DefaultIdleDelay
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}

// Result is the last good capture of a reader.
type Result struct {
	Reader        string    `json:"reader"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Image         []byte    `json:"image"`
	Score         int       `json:"score,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Scheduler owns the continuous capture loops.
type Scheduler struct {
	registry  *device.Registry
	publisher events.Publisher
	cfg       Config
	logger    Logger

	engine     matching.Engine
	identifier Identifier
	checkIns   CheckInRecorder
	metrics    Metrics

	ctx    context.Context
	cancel context.CancelFunc
	pool   errgroup.Group

	mu       sync.Mutex
	last     map[string]Result
	failures map[string]int
}

// New creates a scheduler driving readers of registry and publishing to
// publisher. Results of a reader are dropped when it disconnects.
func New(registry *device.Registry, publisher events.Publisher, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		registry:  registry,
		publisher: publisher,
		cfg:       cfg,
		logger:    noopLogger{},
		ctx:       ctx,
		cancel:    cancel,
		last:      make(map[string]Result),
		failures:  make(map[string]int),
	}
	s.pool.SetLimit(cfg.PoolSize)
	registry.OnRemove(s.forget)
	return s
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetIdentification enables attendance mode. checkIns may be nil.
func (s *Scheduler) SetIdentification(engine matching.Engine, identifier Identifier, checkIns CheckInRecorder) {
	s.engine = engine
	s.identifier = identifier
	s.checkIns = checkIns
}

// SetMetrics sets the telemetry sink.
func (s *Scheduler) SetMetrics(m Metrics) {
	s.metrics = m
}

// StartAll starts a plain capture loop on every known, unreserved reader
// without one. It never reserves. It returns the readers that got a new
// loop; readers that could not be started are logged and skipped.
func (s *Scheduler) StartAll() []string {
	var started []string
	for _, name := range s.registry.ListAvailable() {
		ok, err := s.start(name, device.TaskOptions{Mode: device.ModeCapture})
		switch {
		case err != nil:
			s.logger.Debug("capture not started", "reader", name, "error", err)
		case ok:
			started = append(started, name)
		}
	}
	return started
}

// StartOne starts a plain capture loop on name for session. It fails with
// ErrDeviceNotFound for unknown readers and ErrDeviceAlreadyReserved when
// another session holds the reservation. Starting an active reader again
// is a no-op.
func (s *Scheduler) StartOne(name, session string) error {
	_, err := s.start(name, device.TaskOptions{Session: session, Mode: device.ModeCapture})
	return err
}

// StartAttendance starts attendance mode on name: the reader is reserved
// for the loop and every good capture is identified. The reservation is
// released when the loop exits.
func (s *Scheduler) StartAttendance(name string) error {
	if s.engine == nil || s.identifier == nil {
		return ErrNoIdentifier
	}
	_, err := s.start(name, device.TaskOptions{
		Session: AttendanceSession(name),
		Mode:    device.ModeAttendance,
		Reserve: true,
	})
	return err
}

// AttendanceSession is the session that holds an attendance reservation.
func AttendanceSession(name string) string {
	return attendancePrefix + name
}

func (s *Scheduler) start(name string, opts device.TaskOptions) (bool, error) {
	release := ""
	if opts.Reserve {
		release = opts.Session
	}
	_, started, err := s.registry.StartTask(name, opts, s.spawner(name, opts.Mode, release))
	return started, err
}

// spawner returns the registry callback that launches a loop on the pool.
// It runs under the registry lock, so it only schedules the goroutine.
func (s *Scheduler) spawner(name string, mode device.TaskMode, release string) device.SpawnFunc {
	return func(r device.Reader) (device.Task, error) {
		ctx, cancel := context.WithCancel(s.ctx)
		l := &loop{
			name:    name,
			mode:    mode,
			release: release,
			reader:  r,
			ctx:     ctx,
			cancel:  cancel,
			done:    make(chan struct{}),
		}
		if !s.pool.TryGo(func() error {
			s.run(l)
			return nil
		}) {
			cancel()
			return nil, fmt.Errorf("%w: %d loops running", ErrWorkerPoolExhausted, s.cfg.PoolSize)
		}
		return l, nil
	}
}

// StopOne stops the loop on name, if any, and waits up to the stop grace
// for it to exit. Stopping an attendance loop releases its reservation.
// Stopping an idle reader is a no-op; an unknown one yields
// ErrDeviceNotFound.
func (s *Scheduler) StopOne(ctx context.Context, name string) error {
	if !s.registry.IsKnown(name) {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name)
	}
	t, ok := s.registry.StopTask(name)
	if !ok {
		return nil
	}
	s.wait(ctx, map[string]device.Task{name: t})
	return nil
}

// StopAttendance stops attendance mode on name. A plain capture loop on
// the reader is left running.
func (s *Scheduler) StopAttendance(ctx context.Context, name string) error {
	if !s.registry.IsKnown(name) {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name)
	}
	t, ok := s.registry.TaskOf(name)
	if !ok || t.Mode() != device.ModeAttendance {
		s.registry.ReleaseIfOwner(name, AttendanceSession(name))
		return nil
	}
	return s.StopOne(ctx, name)
}

// StopAll stops every loop and waits up to the stop grace for them to
// exit. Attendance reservations are released even for loops that have
// not exited yet.
func (s *Scheduler) StopAll(ctx context.Context) {
	stopped := s.registry.StopAllTasks()
	if len(stopped) == 0 {
		return
	}
	s.wait(ctx, stopped)
}

// wait blocks until every task is done, the stop grace elapses or ctx is
// done. Stragglers are logged and left to finish on their own.
func (s *Scheduler) wait(ctx context.Context, tasks map[string]device.Task) {
	for name, t := range tasks {
		if t.Mode() == device.ModeAttendance {
			s.registry.ReleaseIfOwner(name, AttendanceSession(name))
		}
	}

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()

	for name, t := range tasks {
		select {
		case <-t.Done():
		case <-timer.C:
			s.logger.Warn("capture loops did not stop within grace", "grace", s.cfg.StopGrace, "first_pending", name)
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops all loops and waits for the pool to drain, bounded by
// ctx and the stop grace.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.StopAll(ctx)
	s.cancel()

	drained := make(chan struct{})
	go func() {
		_ = s.pool.Wait() //nolint:errcheck // loops never return errors
		close(drained)
	}()

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
		return fmt.Errorf("capture loops still running after %s", s.cfg.StopGrace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive reports whether a loop is running on name.
func (s *Scheduler) IsActive(name string) bool {
	_, ok := s.registry.TaskOf(name)
	return ok
}

// Mode returns the mode of the loop running on name.
func (s *Scheduler) Mode(name string) (device.TaskMode, bool) {
	t, ok := s.registry.TaskOf(name)
	if !ok {
		return "", false
	}
	return t.Mode(), true
}

// LastResult returns the last good capture of name.
func (s *Scheduler) LastResult(name string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.last[name]
	return r, ok
}

// ConsecutiveErrors returns the current failure streak of name's loop.
func (s *Scheduler) ConsecutiveErrors(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[name]
}

func (s *Scheduler) setLast(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[r.Reader] = r
}

func (s *Scheduler) setFailures(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = n
}

// forget drops the state of a disconnected reader.
func (s *Scheduler) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, name)
	delete(s.failures, name)
}

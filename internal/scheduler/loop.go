package scheduler

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/capture"
	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/events"
)

// Stop reasons carried by reader status events.
const (
	ReasonStopped        = "stopped"
	ReasonCanceled       = "canceled"
	ReasonDeviceFault    = "device_fault"
	ReasonCircuitBreaker = "circuit_breaker"
)

// loop is the task handle of one reader's capture loop.
type loop struct {
	name    string
	mode    device.TaskMode
	release string // session whose reservation is dropped on exit
	reader  device.Reader

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// inflight is the settled signal of the latest capture. Only the loop
	// goroutine touches it.
	inflight <-chan struct{}
}

func (l *loop) Cancel()               { l.cancel() }
func (l *loop) Done() <-chan struct{} { return l.done }
func (l *loop) Mode() device.TaskMode { return l.mode }

// run drives the loop until it stops, then hands the task slot back. The
// slot is held until the last reader call has returned, even one that
// ignored cancel.
func (s *Scheduler) run(l *loop) {
	reason, streak, err := s.iterate(l)

	if l.inflight != nil {
		select {
		case <-l.inflight:
		default:
			s.logger.Warn("waiting for reader to return from an abandoned capture", "reader", l.name)
			<-l.inflight
		}
	}
	s.registry.FinishTask(l.name, l, l.release)
	l.cancel()
	close(l.done)

	if reason == ReasonStopped {
		s.logger.Info("capture loop stopped", "reader", l.name, "mode", l.mode)
		return
	}

	s.logger.Warn("capture loop stopped on its own",
		"reader", l.name,
		"mode", l.mode,
		"reason", reason,
		"consecutive_errors", streak,
		"error", err,
	)
	ev := events.ReaderStatusEvent{
		Reader:            l.name,
		State:             "stopped",
		Reason:            reason,
		ConsecutiveErrors: streak,
		At:                time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.publisher.Publish(events.ReaderStatusTopic(l.name), ev)
}

// iterate runs capture attempts until the loop must stop and returns why.
// Iterations are strictly sequential: an outcome is fully handled before
// the next capture starts.
func (s *Scheduler) iterate(l *loop) (reason string, streak int, err error) {
	s.setFailures(l.name, 0)
	for {
		if l.ctx.Err() != nil {
			return ReasonStopped, streak, nil
		}

		out := capture.Run(l.ctx, l.reader, s.cfg.Capture)
		l.inflight = out.Settled()

		switch {
		case out.Good():
			streak = 0
			s.setFailures(l.name, 0)
			s.recordOutcome(l, out, 0)
			s.handleGood(l, out)
			if !sleep(l.ctx, s.cfg.IdleDelay) {
				return ReasonStopped, streak, nil
			}

		case out.Quality == capture.QualityCanceled:
			if l.ctx.Err() != nil {
				return ReasonStopped, streak, nil
			}
			return ReasonCanceled, streak, out.Err

		default:
			streak++
			s.setFailures(l.name, streak)
			s.recordOutcome(l, out, streak)
			s.logger.Debug("capture attempt failed",
				"reader", l.name, "quality", out.Quality, "consecutive_errors", streak, "error", out.Err)

			if out.HardFault() {
				return ReasonDeviceFault, streak, out.Err
			}
			if streak >= s.cfg.MaxConsecutiveErrors {
				return ReasonCircuitBreaker, streak, fmt.Errorf("%w: %d in a row, last: %w",
					ErrTooManyConsecutiveErrors, streak, out.Err)
			}
			if !sleep(l.ctx, s.cfg.ErrorDelay) {
				return ReasonStopped, streak, nil
			}
		}
	}
}

// handleGood stores and publishes a good capture. Nothing is published
// once the loop has been asked to stop.
func (s *Scheduler) handleGood(l *loop, out capture.Outcome) {
	reservation, _ := s.registry.ReservationOf(l.name)
	res := Result{
		Reader:        l.name,
		ReservationID: reservation,
		Image:         out.Image,
		Score:         out.Score,
		CapturedAt:    time.Now().UTC(),
	}
	s.setLast(res)

	if l.ctx.Err() != nil {
		return
	}
	s.publisher.Publish(events.CaptureTopic(reservation, l.name), events.CaptureEvent{
		Reader:        l.name,
		ReservationID: reservation,
		Image:         base64.StdEncoding.EncodeToString(out.Image),
		Score:         out.Score,
		CapturedAt:    res.CapturedAt,
	})

	if l.mode == device.ModeAttendance {
		s.identify(l, out.Image)
	}
}

// identify matches a capture against enrolled subjects and publishes the
// verdict. Extraction and lookup errors are logged and publish nothing.
func (s *Scheduler) identify(l *loop, image []byte) {
	sample, err := s.engine.ExtractTemplate(image)
	if err != nil {
		s.logger.Warn("template extraction failed", "reader", l.name, "error", err)
		return
	}
	match, err := s.identifier.Identify(l.ctx, sample)
	if err != nil {
		s.logger.Error("identification failed", "reader", l.name, "error", err)
		return
	}
	if l.ctx.Err() != nil {
		return
	}

	ev := events.AttendanceEvent{
		Reader: l.name,
		Name:   events.Unidentified,
		At:     time.Now().UTC(),
	}
	if match != nil {
		ev.Identified = true
		ev.SubjectID = match.Subject.ID
		ev.Name = match.Subject.Name
		ev.ExternalRef = match.Subject.ExternalRef
		ev.Score = match.Score

		if s.checkIns != nil {
			if err := s.checkIns.RecordCheckIn(l.ctx, match.Subject.ID, l.name, match.Score); err != nil {
				s.logger.Error("recording check-in failed", "reader", l.name, "subject", match.Subject.ID, "error", err)
			}
		}
	}
	if s.metrics != nil {
		s.metrics.WriteIdentification(l.name, ev.Identified, ev.Score)
	}

	s.publisher.Publish(events.AttendanceTopic(l.name), ev)
}

func (s *Scheduler) recordOutcome(l *loop, out capture.Outcome, streak int) {
	if s.metrics != nil {
		s.metrics.WriteCaptureOutcome(l.name, string(l.mode), string(out.Quality), streak)
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

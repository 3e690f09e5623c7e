// Package capture runs one bounded capture attempt on a reader.
//
// Run never panics and never returns a bare error: every path ends in an
// Outcome whose Quality tells the caller how to branch and whose Err
// carries one of the device taxonomy sentinels.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/device"
)

// ErrUnexpectedStatus is returned when a reader reports a status the
// primitive does not know how to handle.
var ErrUnexpectedStatus = errors.New("capture: unexpected reader status")

// Quality classifies the result of one capture attempt.
type Quality string

// Capture outcome classes.
const (
	QualityGood     Quality = "good"
	QualityTimedOut Quality = "timed_out"
	QualityCanceled Quality = "canceled"
	QualityFailed   Quality = "failed"
)

// Outcome is the classified result of Run.
type Outcome struct {
	Quality Quality
	// Image is set only for QualityGood.
	Image []byte
	// Score is the reader's image quality estimate, zero when unknown.
	Score int
	// DeviceQuality is the raw verdict the reader attached, if any.
	DeviceQuality device.Quality
	// Err is nil for QualityGood.
	Err error

	settled <-chan struct{}
}

var closedSettled = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Settled is closed once the reader call behind the outcome has returned.
// A cancelled capture can come back before a device that ignores cancel
// does; the reader must not be handed to anyone else until Settled closes.
func (o Outcome) Settled() <-chan struct{} {
	if o.settled == nil {
		return closedSettled
	}
	return o.settled
}

// AfterSettled runs fn once the reader call has returned: immediately when
// it already has, otherwise from a goroutine.
func (o Outcome) AfterSettled(fn func()) {
	select {
	case <-o.Settled():
		fn()
	default:
		go func() {
			<-o.Settled()
			fn()
		}()
	}
}

// Good reports whether the attempt produced a usable image.
func (o Outcome) Good() bool {
	return o.Quality == QualityGood
}

// HardFault reports whether the attempt failed on a hardware-level fault.
func (o Outcome) HardFault() bool {
	return o.Quality == QualityFailed && errors.Is(o.Err, device.ErrDeviceFault)
}

// Config parameterises Run.
type Config struct {
	Format     device.Format
	Processing device.Processing
	Resolution int

	// Timeout bounds status polling plus the capture call.
	// Zero or less waits until a finger arrives or ctx is cancelled.
	Timeout time.Duration

	// BusyDelay is the pause between polls of a busy reader. Every
	// EscalateEvery-th poll waits BusyEscalatedDelay instead.
	BusyDelay          time.Duration
	BusyEscalatedDelay time.Duration
	EscalateEvery      int

	// CancelGrace bounds how long Run waits for an in-flight capture to
	// acknowledge cancellation before returning anyway.
	CancelGrace time.Duration
}

// Defaults applied by DefaultConfig and to zero fields of a Config.
const (
	DefaultResolution         = 500
	DefaultTimeout            = 8 * time.Second
	DefaultBusyDelay          = 100 * time.Millisecond
	DefaultBusyEscalatedDelay = 500 * time.Millisecond
	DefaultEscalateEvery      = 10
	DefaultCancelGrace        = time.Second
)

// DefaultConfig returns the single-shot settings used for enrollment.
func DefaultConfig() Config {
	return Config{
		Format:             device.FormatANSI381,
		Processing:         device.ProcessingDefault,
		Resolution:         DefaultResolution,
		Timeout:            DefaultTimeout,
		BusyDelay:          DefaultBusyDelay,
		BusyEscalatedDelay: DefaultBusyEscalatedDelay,
		EscalateEvery:      DefaultEscalateEvery,
		CancelGrace:        DefaultCancelGrace,
	}
}

// withDefaults fills zero fields. Timeout is left alone since zero is meaningful.
func (c Config) withDefaults() Config {
	if c.Format == "" {
		c.Format = device.FormatANSI381
	}
	if c.Processing == "" {
		c.Processing = device.ProcessingDefault
	}
	if c.Resolution <= 0 {
		c.Resolution = DefaultResolution
	}
	if c.BusyDelay <= 0 {
		c.BusyDelay = DefaultBusyDelay
	}
	if c.BusyEscalatedDelay <= 0 {
		c.BusyEscalatedDelay = DefaultBusyEscalatedDelay
	}
	if c.EscalateEvery <= 0 {
		c.EscalateEvery = DefaultEscalateEvery
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = DefaultCancelGrace
	}
	return c
}

// busyDelay returns the pause after the given busy poll (1-based).
func (c Config) busyDelay(attempt int) time.Duration {
	if attempt%c.EscalateEvery == 0 {
		return c.BusyEscalatedDelay
	}
	return c.BusyDelay
}

// Run performs one capture attempt on r.
//
// It polls the reader's status while it is busy, then issues a single
// blocking capture bounded by whatever remains of the timeout. Cancelling
// ctx stops the polling and calls the reader's CancelCapture to unblock a
// capture already in flight; Run then returns within CancelGrace even if
// the reader never acknowledges.
func Run(ctx context.Context, r device.Reader, cfg Config) Outcome {
	cfg = cfg.withDefaults()

	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	if o, ready := waitReady(ctx, r, cfg, deadline); !ready {
		return o
	}

	req := device.CaptureRequest{
		Format:     cfg.Format,
		Processing: cfg.Processing,
		Resolution: cfg.Resolution,
	}
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timedOut(fmt.Errorf("%w: no time left to capture", device.ErrDeviceBusyTimeout))
		}
		req.Timeout = remaining
	}

	return captureOnce(ctx, r, req, cfg.CancelGrace)
}

// waitReady polls until the reader can capture. It returns ready=false with
// the terminal outcome otherwise.
func waitReady(ctx context.Context, r device.Reader, cfg Config, deadline time.Time) (Outcome, bool) {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return canceled(), false
		}

		status, err := readStatus(r)
		if err != nil {
			return failed(fmt.Errorf("reading status: %w", err)), false
		}

		switch status {
		case device.StatusReady, device.StatusNeedsCalibration:
			return Outcome{}, true
		case device.StatusBusy:
			delay := cfg.busyDelay(attempt)
			if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
				return timedOut(fmt.Errorf("%w: still busy after %d polls", device.ErrDeviceBusyTimeout, attempt)), false
			}
			if !sleep(ctx, delay) {
				return canceled(), false
			}
		case device.StatusFailure:
			return failed(fmt.Errorf("%w: reader reports failure status", device.ErrDeviceFault)), false
		default:
			return failed(fmt.Errorf("%w: %q", ErrUnexpectedStatus, status)), false
		}
	}
}

// captureOnce issues the blocking capture and honours cancellation.
func captureOnce(ctx context.Context, r device.Reader, req device.CaptureRequest, grace time.Duration) Outcome {
	results := make(chan Outcome, 1)
	done := make(chan struct{})
	go func() {
		o := invoke(r, req)
		close(done)
		results <- o
	}()

	var o Outcome
	select {
	case o = <-results:
		if ctx.Err() != nil {
			o = canceled()
		}
	case <-ctx.Done():
		o = abandon(r, results, grace)
	}
	o.settled = done
	return o
}

// abandon asks the reader to cancel and waits up to grace for the
// capture goroutine to return. The cancel is re-issued a few times in case
// it raced ahead of the capture call.
func abandon(r device.Reader, results <-chan Outcome, grace time.Duration) Outcome {
	cancelCapture(r)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	retry := time.NewTicker(grace / 4) //nolint:mnd // re-issue cancel up to four times within the grace period
	defer retry.Stop()

	for {
		select {
		case <-results:
			return canceled()
		case <-retry.C:
			cancelCapture(r)
		case <-timer.C:
			return canceled()
		}
	}
}

// invoke calls Capture and classifies the result, turning a driver panic
// into a device fault.
func invoke(r device.Reader, req device.CaptureRequest) (o Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			o = failed(fmt.Errorf("%w: capture panicked: %v", device.ErrDeviceFault, rec))
		}
	}()

	res, err := r.Capture(req)
	return classify(res, err)
}

// classify maps a reader result onto an Outcome.
func classify(res device.CaptureResult, err error) Outcome {
	if err != nil {
		if errors.Is(err, device.ErrOperationCancelled) {
			return canceled()
		}
		return failed(err)
	}

	switch res.Quality {
	case device.QualityGood:
		if len(res.Image) == 0 {
			o := timedOut(fmt.Errorf("%w: reader returned no image", device.ErrNoFingerPresented))
			o.DeviceQuality = res.Quality
			return o
		}
		return Outcome{
			Quality:       QualityGood,
			Image:         res.Image,
			Score:         res.Score,
			DeviceQuality: res.Quality,
		}
	case device.QualityTimedOut, device.QualityNoFinger:
		o := timedOut(device.ErrNoFingerPresented)
		o.DeviceQuality = res.Quality
		return o
	case device.QualityCanceled:
		return canceled()
	default:
		o := failed(fmt.Errorf("%w: reader reported %s", device.ErrQualityInsufficient, res.Quality))
		o.DeviceQuality = res.Quality
		o.Score = res.Score
		return o
	}
}

func readStatus(r device.Reader) (s device.Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: status panicked: %v", device.ErrDeviceFault, rec)
		}
	}()
	return r.Status()
}

func cancelCapture(r device.Reader) {
	defer func() { _ = recover() }()
	_ = r.CancelCapture()
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

func canceled() Outcome {
	return Outcome{Quality: QualityCanceled, Err: device.ErrOperationCancelled}
}

func timedOut(err error) Outcome {
	return Outcome{Quality: QualityTimedOut, Err: err}
}

func failed(err error) Outcome {
	return Outcome{Quality: QualityFailed, Err: err}
}

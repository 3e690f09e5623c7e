// Package simreader implements the reader protocol in process.
//
// It backs the "sim" driver used on development hosts without hardware and
// serves as the scriptable reader in tests. A Bus plays the role of the USB
// enumerator: readers attached to it are reported as present.
package simreader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/device"
)

// ErrNotOpen is returned by Capture when the reader is closed.
var ErrNotOpen = errors.New("simreader: reader not open")

// Step is one scripted capture response. Delay postpones the response;
// a cancel during the delay yields a canceled result.
type Step struct {
	Result device.CaptureResult
	Err    error
	Delay  time.Duration
}

// Reader is a simulated fingerprint reader.
type Reader struct {
	desc device.Description
	caps device.Capabilities

	mu        sync.Mutex
	open      bool
	openErr   error
	capsErr   error
	status    device.Status
	statusErr error
	statuses  []device.Status
	script    []Step
	inflight  chan struct{}
	captures  int
	cancels   int
	opens     int

	touches chan device.CaptureResult
}

// New creates a closed reader with the given identity and capabilities.
func New(desc device.Description, caps device.Capabilities) *Reader {
	return &Reader{
		desc:    desc,
		caps:    caps,
		status:  device.StatusReady,
		touches: make(chan device.CaptureResult),
	}
}

// Open implements device.Reader.
func (r *Reader) Open(_ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.openErr != nil {
		return r.openErr
	}
	r.open = true
	return nil
}

// Close implements device.Reader. Any capture in flight is cancelled.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.cancelLocked()
	return nil
}

// Status implements device.Reader. Queued statuses are returned first.
func (r *Reader) Status() (device.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusErr != nil {
		return "", r.statusErr
	}
	if len(r.statuses) > 0 {
		s := r.statuses[0]
		r.statuses = r.statuses[1:]
		return s, nil
	}
	return r.status, nil
}

// Capture implements device.Reader.
//
// A scripted step is consumed if one is queued. Otherwise the call waits
// for Touch, CancelCapture or the request timeout.
func (r *Reader) Capture(req device.CaptureRequest) (device.CaptureResult, error) {
	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return device.CaptureResult{}, fmt.Errorf("%w: %w", device.ErrDeviceFault, ErrNotOpen)
	}
	r.captures++
	var step *Step
	if len(r.script) > 0 {
		s := r.script[0]
		r.script = r.script[1:]
		step = &s
	}
	wait := make(chan struct{})
	r.inflight = wait
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.inflight == wait {
			r.inflight = nil
		}
		r.mu.Unlock()
	}()

	if step != nil {
		if step.Delay <= 0 {
			return step.Result, step.Err
		}
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return step.Result, step.Err
		case <-wait:
			return device.CaptureResult{Quality: device.QualityCanceled}, nil
		}
	}

	var timeout <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-r.touches:
		return res, nil
	case <-wait:
		return device.CaptureResult{Quality: device.QualityCanceled}, nil
	case <-timeout:
		return device.CaptureResult{Quality: device.QualityTimedOut}, nil
	}
}

// CancelCapture implements device.Reader.
func (r *Reader) CancelCapture() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
	r.cancelLocked()
	return nil
}

func (r *Reader) cancelLocked() {
	if r.inflight != nil {
		close(r.inflight)
		r.inflight = nil
	}
}

// Capabilities implements device.Reader.
func (r *Reader) Capabilities() (device.Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capsErr != nil {
		return device.Capabilities{}, r.capsErr
	}
	return r.caps, nil
}

// Description implements device.Reader.
func (r *Reader) Description() (device.Description, error) {
	return r.desc, nil
}

// Name returns the reader's registry name.
func (r *Reader) Name() string {
	return r.desc.Name
}

// Touch presents a finger to a waiting capture. It blocks until a capture
// consumes the result or ctx is done.
func (r *Reader) Touch(ctx context.Context, res device.CaptureResult) error {
	select {
	case r.touches <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Script queues capture responses consumed in order.
func (r *Reader) Script(steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, steps...)
}

// SetStatus sets the status returned once queued statuses are used up.
func (r *Reader) SetStatus(s device.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// QueueStatus queues statuses returned by the next Status calls.
func (r *Reader) QueueStatus(s ...device.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s...)
}

// FailStatus makes Status return err. Pass nil to clear.
func (r *Reader) FailStatus(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusErr = err
}

// FailOpen makes Open return err. Pass nil to clear.
func (r *Reader) FailOpen(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErr = err
}

// FailCapabilities makes Capabilities return err. Pass nil to clear.
func (r *Reader) FailCapabilities(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capsErr = err
}

// IsOpen reports whether the reader is open.
func (r *Reader) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Captures returns how many Capture calls were made.
func (r *Reader) Captures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captures
}

// Cancels returns how many CancelCapture calls were made.
func (r *Reader) Cancels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels
}

// Opens returns how many Open calls were made.
func (r *Reader) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

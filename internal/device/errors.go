package device

import "errors"

// Domain errors for the device package.
//
// Capture and reservation failures are classified with these sentinels so
// callers can branch with errors.Is() instead of inspecting messages:
//
//	if errors.Is(err, device.ErrDeviceAlreadyReserved) {
//	    // another session owns the reader
//	}
var (
	// ErrDeviceNotFound is returned when a reader name is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceAlreadyReserved is returned when another session holds the reader.
	ErrDeviceAlreadyReserved = errors.New("device: already reserved")

	// ErrDeviceBusyTimeout is returned when the reader stayed busy for the whole timeout budget.
	ErrDeviceBusyTimeout = errors.New("device: busy timeout")

	// ErrNoFingerPresented is returned when a capture timed out without a finger.
	ErrNoFingerPresented = errors.New("device: no finger presented")

	// ErrQualityInsufficient is returned when a capture is below the acceptance bar.
	ErrQualityInsufficient = errors.New("device: quality insufficient")

	// ErrOperationCancelled is returned when a capture was cancelled by the caller.
	ErrOperationCancelled = errors.New("device: operation cancelled")

	// ErrDeviceFault is returned for hardware-level failures. Loops stop on it.
	ErrDeviceFault = errors.New("device: fault")

	// ErrIncompatible is returned when a reader fails the compatibility check.
	ErrIncompatible = errors.New("device: incompatible")

	// ErrCaptureActive is returned when the reader is already driven by a task or lease.
	ErrCaptureActive = errors.New("device: capture active")

	// ErrEmptySession is returned when a reservation is requested without a session id.
	ErrEmptySession = errors.New("device: empty session id")
)

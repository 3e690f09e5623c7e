package device

import (
	"context"
	"time"
)

// Status is the readiness reported by a reader before a capture.
type Status string

// Reader status values.
const (
	StatusReady            Status = "ready"
	StatusBusy             Status = "busy"
	StatusNeedsCalibration Status = "needs_calibration"
	StatusFailure          Status = "failure"
)

// Technology is the sensing technology of a reader.
type Technology string

// Known sensing technologies.
const (
	TechnologyOptical    Technology = "optical"
	TechnologyCapacitive Technology = "capacitive"
	TechnologyThermal    Technology = "thermal"
	TechnologyPressure   Technology = "pressure"
	TechnologyUnknown    Technology = "unknown"
)

// Format is the image format requested from a capture.
type Format string

// Supported capture formats.
const (
	FormatANSI381 Format = "ansi_381_2004"
	FormatISO1979 Format = "iso_19794_4_2005"
)

// Processing selects the reader's image processing pipeline.
type Processing string

// Processing modes.
const (
	ProcessingDefault      Processing = "default"
	ProcessingIntermediate Processing = "intermediate"
)

// Quality is the reader-level verdict attached to a capture result.
type Quality string

// Reader-level capture qualities. Anything other than QualityGood,
// QualityTimedOut, QualityNoFinger or QualityCanceled is treated as
// below the acceptance bar.
const (
	QualityGood       Quality = "good"
	QualityTimedOut   Quality = "timed_out"
	QualityNoFinger   Quality = "no_finger"
	QualityCanceled   Quality = "canceled"
	QualityFakeFinger Quality = "fake_finger"
	QualityTooSmall   Quality = "too_small"
	QualityPoor       Quality = "poor"
)

// Description identifies a reader. Name is stable across rediscovery.
type Description struct {
	Name       string     `json:"name"`
	Vendor     string     `json:"vendor"`
	Product    string     `json:"product,omitempty"`
	Serial     string     `json:"serial,omitempty"`
	Technology Technology `json:"technology"`
}

// Capabilities lists what a reader can do.
type Capabilities struct {
	CanCapture  bool  `json:"can_capture"`
	CanExtract  bool  `json:"can_extract"`
	CanStream   bool  `json:"can_stream"`
	Resolutions []int `json:"resolutions,omitempty"`
}

// CaptureRequest parameterises a single blocking capture call.
// A Timeout of zero or less means the call waits until a finger
// arrives or CancelCapture is called.
type CaptureRequest struct {
	Format     Format
	Processing Processing
	Resolution int
	Timeout    time.Duration
}

// CaptureResult is what a reader returns from Capture.
// Score is the reader's image quality estimate, higher is better,
// zero when the reader does not report one.
type CaptureResult struct {
	Quality Quality
	Image   []byte
	Score   int
}

// Reader is the device protocol every driver implements.
//
// Capture blocks until an image is available, the request timeout
// expires, or CancelCapture is called from another goroutine.
// Drivers wrap hardware-level failures with ErrDeviceFault.
type Reader interface {
	Open(exclusive bool) error
	Close() error
	Status() (Status, error)
	Capture(req CaptureRequest) (CaptureResult, error)
	CancelCapture() error
	Capabilities() (Capabilities, error)
	Description() (Description, error)
}

// Enumerator lists the readers physically present. The returned
// handles are not yet opened.
type Enumerator interface {
	Readers(ctx context.Context) ([]Reader, error)
}

// TaskMode distinguishes plain capture loops from attendance loops.
type TaskMode string

// Task modes.
const (
	ModeCapture    TaskMode = "capture"
	ModeAttendance TaskMode = "attendance"
)

// Task is the handle of a background loop bound to one reader.
type Task interface {
	// Cancel requests the loop to stop. It does not block.
	Cancel()
	// Done is closed once the loop has exited.
	Done() <-chan struct{}
	// Mode reports how the loop was started.
	Mode() TaskMode
}

// ReaderInfo is a point-in-time view of one registered reader.
type ReaderInfo struct {
	Description  Description  `json:"description"`
	Capabilities Capabilities `json:"capabilities"`
	ReservedBy   string       `json:"reserved_by,omitempty"`
	TaskMode     TaskMode     `json:"task_mode,omitempty"`
	Leased       bool         `json:"leased"`
	DiscoveredAt time.Time    `json:"discovered_at"`
}

package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCaptureOutcome = "capture_outcome"
	MeasurementIdentification = "identification"
	MeasurementEnrollmentStep = "enrollment_step"
)

// WriteCaptureOutcome records one continuous capture attempt.
// consecutiveErrors is the loop's failure streak after the attempt.
func (c *Client) WriteCaptureOutcome(reader, mode, quality string, consecutiveErrors int) {
	c.write(capturePoint(reader, mode, quality, consecutiveErrors, time.Now()))
}

// WriteIdentification records an attendance identification verdict.
func (c *Client) WriteIdentification(reader string, identified bool, score int) {
	c.write(identificationPoint(reader, identified, score, time.Now()))
}

// WriteEnrollmentStep records one enrollment capture step.
func (c *Client) WriteEnrollmentStep(reader, quality string, remaining int, complete bool) {
	c.write(enrollmentPoint(reader, quality, remaining, complete, time.Now()))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

// write is a no-op on a nil or closed client so callers can hold an
// optional *Client without checks.
func (c *Client) write(point *write.Point) {
	if c == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(point)
}

func capturePoint(reader, mode, quality string, consecutiveErrors int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCaptureOutcome,
		map[string]string{
			"reader":  reader,
			"mode":    mode,
			"quality": quality,
		},
		map[string]interface{}{
			"count":              1,
			"consecutive_errors": consecutiveErrors,
		},
		at,
	)
}

func identificationPoint(reader string, identified bool, score int, at time.Time) *write.Point {
	fields := map[string]interface{}{"count": 1}
	if identified {
		fields["score"] = score
	}
	return write.NewPoint(
		MeasurementIdentification,
		map[string]string{
			"reader":     reader,
			"identified": strconv.FormatBool(identified),
		},
		fields,
		at,
	)
}

func enrollmentPoint(reader, quality string, remaining int, complete bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEnrollmentStep,
		map[string]string{
			"reader":  reader,
			"quality": quality,
		},
		map[string]interface{}{
			"remaining": remaining,
			"complete":  complete,
		},
		at,
	)
}

// Package matching defines the template matching collaborator.
//
// Extraction, comparison, identification and enrollment consolidation are
// performed by a vendor engine behind the Engine interface. The core treats
// templates as opaque blobs tagged with a format.
package matching

import "errors"

// Errors returned by engines.
var (
	// ErrExtractionFailed is returned when no template can be derived from an image.
	ErrExtractionFailed = errors.New("matching: extraction failed")

	// ErrFormatMismatch is returned when templates of different formats are compared.
	ErrFormatMismatch = errors.New("matching: format mismatch")

	// ErrNoTemplates is returned when an enrollment artifact is built from nothing.
	ErrNoTemplates = errors.New("matching: no templates")
)

// Template formats.
const (
	FormatANSI378 = "ansi_378_2004"
	FormatISO1979 = "iso_19794_2_2005"
)

// DefaultThreshold is the dissimilarity score below which two templates
// are considered the same finger. It corresponds to a false match rate of
// roughly one in a million on the supported engines.
const DefaultThreshold = 2147

// Template is an opaque, matchable representation of one finger.
type Template struct {
	Format string
	Data   []byte
}

// Candidate is one identification hit. Index points into the candidate
// slice passed to Identify; lower Score means more similar.
type Candidate struct {
	Index int
	Score int
}

// Engine is the matching collaborator.
type Engine interface {
	// ExtractTemplate derives a template from a raw capture image.
	ExtractTemplate(image []byte) (Template, error)

	// Compare returns the dissimilarity score of two templates.
	Compare(a, b Template) (int, error)

	// Identify returns at most maxResults candidates scoring below
	// threshold, best first.
	Identify(sample Template, candidates []Template, threshold, maxResults int) ([]Candidate, error)

	// BuildEnrollmentArtifact consolidates ordered templates of one finger.
	BuildEnrollmentArtifact(templates []Template) ([]byte, error)
}

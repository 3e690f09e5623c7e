package matching

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math"
	"slices"
)

// artifactMagic prefixes enrollment artifacts built by ReferenceEngine.
var artifactMagic = []byte("FPE1")

// ReferenceEngine is an exact-match engine for the simulated driver.
//
// A template is the SHA-256 digest of the image, so only byte-identical
// images match. Enrollment artifacts are the list of their template
// digests. It lets the service run end to end without a vendor SDK.
type ReferenceEngine struct{}

// NewReferenceEngine returns a ReferenceEngine.
func NewReferenceEngine() *ReferenceEngine {
	return &ReferenceEngine{}
}

// ExtractTemplate implements Engine.
func (ReferenceEngine) ExtractTemplate(image []byte) (Template, error) {
	if len(image) == 0 {
		return Template{}, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}
	sum := sha256.Sum256(image)
	return Template{Format: FormatANSI378, Data: sum[:]}, nil
}

// Compare implements Engine. Scores are 0 on a match and math.MaxInt32 otherwise.
func (ReferenceEngine) Compare(a, b Template) (int, error) {
	if a.Format != b.Format {
		return 0, fmt.Errorf("%w: %s vs %s", ErrFormatMismatch, a.Format, b.Format)
	}
	da, err := digests(a.Data)
	if err != nil {
		return 0, err
	}
	db, err := digests(b.Data)
	if err != nil {
		return 0, err
	}
	for _, x := range da {
		for _, y := range db {
			if bytes.Equal(x, y) {
				return 0, nil
			}
		}
	}
	return math.MaxInt32, nil
}

// Identify implements Engine.
func (e ReferenceEngine) Identify(sample Template, candidates []Template, threshold, maxResults int) ([]Candidate, error) {
	var hits []Candidate
	for i, c := range candidates {
		score, err := e.Compare(sample, c)
		if err != nil {
			return nil, fmt.Errorf("comparing candidate %d: %w", i, err)
		}
		if score < threshold {
			hits = append(hits, Candidate{Index: i, Score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b Candidate) int { return a.Score - b.Score })
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

// BuildEnrollmentArtifact implements Engine.
func (ReferenceEngine) BuildEnrollmentArtifact(templates []Template) ([]byte, error) {
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}
	if len(templates) > math.MaxUint8 {
		return nil, fmt.Errorf("too many templates: %d", len(templates))
	}

	out := make([]byte, 0, len(artifactMagic)+1+len(templates)*sha256.Size)
	out = append(out, artifactMagic...)
	out = append(out, byte(len(templates)))
	for i, t := range templates {
		if t.Format != FormatANSI378 || len(t.Data) != sha256.Size {
			return nil, fmt.Errorf("%w: template %d", ErrFormatMismatch, i)
		}
		out = append(out, t.Data...)
	}
	return out, nil
}

// digests splits a template or artifact into its SHA-256 digests.
func digests(data []byte) ([][]byte, error) {
	if len(data) == sha256.Size {
		return [][]byte{data}, nil
	}
	if !bytes.HasPrefix(data, artifactMagic) || len(data) < len(artifactMagic)+1 {
		return nil, fmt.Errorf("%w: unrecognised template", ErrFormatMismatch)
	}
	n := int(data[len(artifactMagic)])
	body := data[len(artifactMagic)+1:]
	if len(body) != n*sha256.Size {
		return nil, fmt.Errorf("%w: truncated artifact", ErrFormatMismatch)
	}
	out := make([][]byte, n)
	for i := range n {
		out[i] = body[i*sha256.Size : (i+1)*sha256.Size]
	}
	return out, nil
}

package device

import (
	"fmt"
	"slices"
	"strings"
)

// Compatibility decides whether a reader is supported by the core.
//
// A reader is compatible when its vendor contains one of Vendors
// (case-insensitive), its technology is in Technologies and it can
// capture. An empty list accepts everything for that criterion.
type Compatibility struct {
	Vendors      []string
	Technologies []Technology
}

// DefaultCompatibility returns the allow-lists for the supported reader families.
func DefaultCompatibility() Compatibility {
	return Compatibility{
		Vendors:      []string{"digitalpersona", "hid global"},
		Technologies: []Technology{TechnologyOptical, TechnologyCapacitive},
	}
}

// Check returns nil when the reader is supported, or an error wrapping
// ErrIncompatible naming the first criterion it failed.
//
// Check only queries the reader. A failing capability query makes the
// reader incompatible instead of propagating the error.
func (c Compatibility) Check(r Reader, desc Description) error {
	if len(c.Vendors) > 0 && !c.vendorAllowed(desc.Vendor) {
		return fmt.Errorf("%w: vendor %q not supported", ErrIncompatible, desc.Vendor)
	}

	if len(c.Technologies) > 0 && !slices.Contains(c.Technologies, desc.Technology) {
		return fmt.Errorf("%w: technology %q not supported", ErrIncompatible, desc.Technology)
	}

	caps, err := c.capabilities(r)
	if err != nil {
		return fmt.Errorf("%w: querying capabilities: %v", ErrIncompatible, err) //nolint:errorlint // classification is ErrIncompatible
	}
	if !caps.CanCapture {
		return fmt.Errorf("%w: reader cannot capture", ErrIncompatible)
	}

	return nil
}

func (c Compatibility) vendorAllowed(vendor string) bool {
	v := strings.ToLower(vendor)
	for _, allowed := range c.Vendors {
		if strings.Contains(v, strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}

// capabilities shields Check from drivers that panic on a bad handle.
func (c Compatibility) capabilities(r Reader) (caps Capabilities, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("capability query panicked: %v", rec)
		}
	}()
	return r.Capabilities()
}

package device

import (
	"errors"
	"testing"
)

func TestCompatibilityCheck(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*fakeReader)
		compat Compatibility
		wantOK bool
	}{
		{
			name:   "digitalpersona optical",
			compat: DefaultCompatibility(),
			wantOK: true,
		},
		{
			name:   "hid global capacitive, vendor case differs",
			modify: func(f *fakeReader) { f.desc.Vendor = "HID Global Corp."; f.desc.Technology = TechnologyCapacitive },
			compat: DefaultCompatibility(),
			wantOK: true,
		},
		{
			name:   "unknown vendor",
			modify: func(f *fakeReader) { f.desc.Vendor = "Acme" },
			compat: DefaultCompatibility(),
		},
		{
			name:   "thermal technology",
			modify: func(f *fakeReader) { f.desc.Technology = TechnologyThermal },
			compat: DefaultCompatibility(),
		},
		{
			name:   "cannot capture",
			modify: func(f *fakeReader) { f.caps.CanCapture = false },
			compat: DefaultCompatibility(),
		},
		{
			name:   "capability query fails",
			modify: func(f *fakeReader) { f.capsErr = errors.New("io") },
			compat: DefaultCompatibility(),
		},
		{
			name:   "cannot extract is allowed",
			modify: func(f *fakeReader) { f.caps.CanExtract = false },
			compat: DefaultCompatibility(),
			wantOK: true,
		},
		{
			name:   "empty allow-lists accept any vendor",
			modify: func(f *fakeReader) { f.desc.Vendor = "Acme"; f.desc.Technology = TechnologyThermal },
			compat: Compatibility{},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeReader("R1")
			if tt.modify != nil {
				tt.modify(f)
			}

			err := tt.compat.Check(f, f.desc)
			if tt.wantOK && err != nil {
				t.Errorf("Check() error = %v, want nil", err)
			}
			if !tt.wantOK && !errors.Is(err, ErrIncompatible) {
				t.Errorf("Check() error = %v, want ErrIncompatible", err)
			}
		})
	}
}

type panickyReader struct{ *fakeReader }

func (panickyReader) Capabilities() (Capabilities, error) { panic("driver bug") }

func TestCompatibilityCheck_RecoversFromPanic(t *testing.T) {
	f := newFakeReader("R1")
	err := DefaultCompatibility().Check(panickyReader{f}, f.desc)
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("Check() error = %v, want ErrIncompatible", err)
	}
}

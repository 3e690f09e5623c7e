package simreader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/device"
)

func newOpenReader(t *testing.T, name string) *Reader {
	t.Helper()
	r := New(device.Description{Name: name, Vendor: "DigitalPersona", Technology: device.TechnologyOptical},
		device.Capabilities{CanCapture: true})
	if err := r.Open(true); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r
}

func TestCapture_ScriptedStepsInOrder(t *testing.T) {
	r := newOpenReader(t, "R1")
	boom := errors.New("boom")
	r.Script(
		Step{Result: device.CaptureResult{Quality: device.QualityGood, Image: []byte("a")}},
		Step{Err: boom},
	)

	res, err := r.Capture(device.CaptureRequest{})
	if err != nil || string(res.Image) != "a" {
		t.Errorf("first Capture() = (%q, %v), want (a, nil)", res.Image, err)
	}
	if _, err := r.Capture(device.CaptureRequest{}); !errors.Is(err, boom) {
		t.Errorf("second Capture() error = %v, want boom", err)
	}
	if r.Captures() != 2 {
		t.Errorf("Captures() = %d, want 2", r.Captures())
	}
}

func TestCapture_Outcomes(t *testing.T) {
	cancelSoon := func(r *Reader) {
		time.Sleep(20 * time.Millisecond)
		_ = r.CancelCapture() //nolint:errcheck // never fails
	}
	tests := []struct {
		name  string
		setup func(r *Reader)
		async func(r *Reader)
		req   device.CaptureRequest
		want  device.Quality
	}{
		{
			name: "timeout without finger",
			req:  device.CaptureRequest{Timeout: 20 * time.Millisecond},
			want: device.QualityTimedOut,
		},
		{
			name:  "cancel while waiting",
			async: cancelSoon,
			want:  device.QualityCanceled,
		},
		{
			name: "cancel during scripted delay",
			setup: func(r *Reader) {
				r.Script(Step{Result: device.CaptureResult{Quality: device.QualityGood}, Delay: time.Second})
			},
			async: cancelSoon,
			want:  device.QualityCanceled,
		},
		{
			name: "touch",
			async: func(r *Reader) {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = r.Touch(ctx, device.CaptureResult{Quality: device.QualityGood, Image: []byte("x")}) //nolint:errcheck // asserted via Capture
			},
			want: device.QualityGood,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newOpenReader(t, "R1")
			if tt.setup != nil {
				tt.setup(r)
			}
			if tt.async != nil {
				go tt.async(r)
			}
			res, err := r.Capture(tt.req)
			if err != nil {
				t.Fatalf("Capture() error = %v", err)
			}
			if res.Quality != tt.want {
				t.Errorf("Quality = %q, want %q", res.Quality, tt.want)
			}
		})
	}
}

func TestCapture_ClosedReaderFaults(t *testing.T) {
	r := New(device.Description{Name: "R1"}, device.Capabilities{})
	if _, err := r.Capture(device.CaptureRequest{}); !errors.Is(err, device.ErrDeviceFault) {
		t.Errorf("Capture() on closed reader error = %v, want ErrDeviceFault", err)
	}
}

func TestBus_AttachDetachFail(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(newOpenReader(t, "R1"))
	bus.Attach(newOpenReader(t, "R2"))

	readers, err := bus.Readers(ctx)
	if err != nil || len(readers) != 2 {
		t.Fatalf("Readers() = (%d, %v), want 2", len(readers), err)
	}

	bus.Detach("R1")
	readers, _ = bus.Readers(ctx) //nolint:errcheck // checked above
	if len(readers) != 1 {
		t.Errorf("Readers() after Detach = %d, want 1", len(readers))
	}

	enumErr := errors.New("usb gone")
	bus.FailEnumeration(enumErr)
	if _, err := bus.Readers(ctx); !errors.Is(err, enumErr) {
		t.Errorf("Readers() error = %v, want %v", err, enumErr)
	}
}

func TestAutoTouch_CyclesFingers(t *testing.T) {
	r := newOpenReader(t, "R1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go AutoTouch(ctx, r, 5*time.Millisecond, 2)

	var images []string
	for range 3 {
		res, err := r.Capture(device.CaptureRequest{Timeout: time.Second})
		if err != nil || res.Quality != device.QualityGood {
			t.Fatalf("Capture() = (%v, %v), want a good touch", res.Quality, err)
		}
		images = append(images, string(res.Image))
	}
	for _, img := range images {
		if !strings.HasPrefix(img, "sim:R1:finger-") {
			t.Errorf("image = %q, want sim:R1:finger-N", img)
		}
	}
}

func TestRegistryWatch_FollowsBus(t *testing.T) {
	r1 := New(device.Description{Name: "R1", Vendor: "DigitalPersona", Technology: device.TechnologyOptical},
		device.Capabilities{CanCapture: true})
	bus := NewBus(r1)
	reg := device.NewRegistry(bus, device.DefaultCompatibility())
	t.Cleanup(func() { _ = reg.Close() }) //nolint:errcheck // test cleanup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Watch(ctx, 5*time.Millisecond)

	waitFor := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
	}

	waitFor("R1 discovered", func() bool { return reg.IsKnown("R1") })

	bus.Attach(New(device.Description{Name: "R2", Vendor: "HID Global", Technology: device.TechnologyCapacitive},
		device.Capabilities{CanCapture: true}))
	waitFor("R2 discovered", func() bool { return reg.IsKnown("R2") })

	bus.Detach("R1")
	waitFor("R1 removed", func() bool { return !reg.IsKnown("R1") })
	if r1.IsOpen() {
		t.Error("removed reader still open")
	}
}

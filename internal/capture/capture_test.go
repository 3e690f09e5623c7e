package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/device"
	"github.com/nerrad567/fingerprint-core/internal/device/simreader"
)

func testConfig() Config {
	return Config{
		Timeout:            time.Second,
		BusyDelay:          time.Millisecond,
		BusyEscalatedDelay: 2 * time.Millisecond,
		EscalateEvery:      10,
		CancelGrace:        50 * time.Millisecond,
	}
}

func openReader(t *testing.T) *simreader.Reader {
	t.Helper()
	r := simreader.New(
		device.Description{Name: "R1", Vendor: "DigitalPersona", Technology: device.TechnologyOptical},
		device.Capabilities{CanCapture: true},
	)
	if err := r.Open(true); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r
}

func TestRun_Classification(t *testing.T) {
	tests := []struct {
		name      string
		step      simreader.Step
		want      Quality
		wantErr   error
		wantImage bool
		wantHard  bool
	}{
		{
			name:      "good image",
			step:      simreader.Step{Result: device.CaptureResult{Quality: device.QualityGood, Image: []byte("img"), Score: 70}},
			want:      QualityGood,
			wantImage: true,
		},
		{
			name:    "good without image",
			step:    simreader.Step{Result: device.CaptureResult{Quality: device.QualityGood}},
			want:    QualityTimedOut,
			wantErr: device.ErrNoFingerPresented,
		},
		{
			name:    "reader timed out",
			step:    simreader.Step{Result: device.CaptureResult{Quality: device.QualityTimedOut}},
			want:    QualityTimedOut,
			wantErr: device.ErrNoFingerPresented,
		},
		{
			name:    "no finger",
			step:    simreader.Step{Result: device.CaptureResult{Quality: device.QualityNoFinger}},
			want:    QualityTimedOut,
			wantErr: device.ErrNoFingerPresented,
		},
		{
			name:    "reader canceled",
			step:    simreader.Step{Result: device.CaptureResult{Quality: device.QualityCanceled}},
			want:    QualityCanceled,
			wantErr: device.ErrOperationCancelled,
		},
		{
			name:    "fake finger",
			step:    simreader.Step{Result: device.CaptureResult{Quality: device.QualityFakeFinger}},
			want:    QualityFailed,
			wantErr: device.ErrQualityInsufficient,
		},
		{
			name:     "driver fault",
			step:     simreader.Step{Err: errors.Join(device.ErrDeviceFault, errors.New("usb reset"))},
			want:     QualityFailed,
			wantErr:  device.ErrDeviceFault,
			wantHard: true,
		},
		{
			name:    "driver transient error",
			step:    simreader.Step{Err: errors.New("checksum mismatch")},
			want:    QualityFailed,
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := openReader(t)
			r.Script(tt.step)

			o := Run(context.Background(), r, testConfig())

			if o.Quality != tt.want {
				t.Errorf("Quality = %v, want %v", o.Quality, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(o.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", o.Err, tt.wantErr)
			}
			if tt.want != QualityGood && o.Err == nil {
				t.Error("non-good outcome must carry an error")
			}
			if (len(o.Image) > 0) != tt.wantImage {
				t.Errorf("Image present = %v, want %v", len(o.Image) > 0, tt.wantImage)
			}
			if o.HardFault() != tt.wantHard {
				t.Errorf("HardFault() = %v, want %v", o.HardFault(), tt.wantHard)
			}
		})
	}
}

func TestRun_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*simreader.Reader)
		want      Quality
		wantErr   error
		wantCalls int
	}{
		{
			name:      "needs calibration still captures",
			setup:     func(r *simreader.Reader) { r.QueueStatus(device.StatusNeedsCalibration) },
			want:      QualityGood,
			wantCalls: 1,
		},
		{
			name:      "busy then ready",
			setup:     func(r *simreader.Reader) { r.QueueStatus(device.StatusBusy, device.StatusBusy, device.StatusBusy) },
			want:      QualityGood,
			wantCalls: 1,
		},
		{
			name:    "failure status",
			setup:   func(r *simreader.Reader) { r.SetStatus(device.StatusFailure) },
			want:    QualityFailed,
			wantErr: device.ErrDeviceFault,
		},
		{
			name:    "unknown status",
			setup:   func(r *simreader.Reader) { r.SetStatus(device.Status("warming_up")) },
			want:    QualityFailed,
			wantErr: ErrUnexpectedStatus,
		},
		{
			name:  "status error",
			setup: func(r *simreader.Reader) { r.FailStatus(errors.New("io")) },
			want:  QualityFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := openReader(t)
			r.Script(simreader.Step{Result: device.CaptureResult{Quality: device.QualityGood, Image: []byte("img")}})
			tt.setup(r)

			o := Run(context.Background(), r, testConfig())

			if o.Quality != tt.want {
				t.Errorf("Quality = %v, want %v (err %v)", o.Quality, tt.want, o.Err)
			}
			if tt.wantErr != nil && !errors.Is(o.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", o.Err, tt.wantErr)
			}
			if got := r.Captures(); got != tt.wantCalls {
				t.Errorf("Captures() = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRun_BusyTimeout(t *testing.T) {
	r := openReader(t)
	r.SetStatus(device.StatusBusy)
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	o := Run(context.Background(), r, cfg)

	if o.Quality != QualityTimedOut {
		t.Errorf("Quality = %v, want %v", o.Quality, QualityTimedOut)
	}
	if !errors.Is(o.Err, device.ErrDeviceBusyTimeout) {
		t.Errorf("Err = %v, want ErrDeviceBusyTimeout", o.Err)
	}
	if r.Captures() != 0 {
		t.Error("a busy reader must not be asked to capture")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v, want within timeout budget", elapsed)
	}
}

func TestConfig_BusyDelayEscalates(t *testing.T) {
	cfg := DefaultConfig()

	for attempt := 1; attempt <= 30; attempt++ {
		want := DefaultBusyDelay
		if attempt%10 == 0 {
			want = DefaultBusyEscalatedDelay
		}
		if got := cfg.busyDelay(attempt); got != want {
			t.Errorf("busyDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRun_CaptureTimeoutFromBudget(t *testing.T) {
	r := openReader(t)
	cfg := testConfig()
	cfg.Timeout = 30 * time.Millisecond

	o := Run(context.Background(), r, cfg)

	if o.Quality != QualityTimedOut || !errors.Is(o.Err, device.ErrNoFingerPresented) {
		t.Errorf("Run() = (%v, %v), want timed out with no finger", o.Quality, o.Err)
	}
}

func TestRun_CancelUnblocksCapture(t *testing.T) {
	r := openReader(t)
	cfg := testConfig()
	cfg.Timeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- Run(ctx, r, cfg) }()

	// Wait for the capture to be in flight.
	deadline := time.Now().Add(time.Second)
	for r.Captures() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case o := <-done:
		if o.Quality != QualityCanceled {
			t.Errorf("Quality = %v, want %v", o.Quality, QualityCanceled)
		}
		if !errors.Is(o.Err, device.ErrOperationCancelled) {
			t.Errorf("Err = %v, want ErrOperationCancelled", o.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if r.Cancels() == 0 {
		t.Error("cancel must be forwarded to the reader")
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	r := openReader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := Run(ctx, r, testConfig())

	if o.Quality != QualityCanceled {
		t.Errorf("Quality = %v, want %v", o.Quality, QualityCanceled)
	}
	if r.Captures() != 0 {
		t.Error("no capture should be issued after cancellation")
	}
}

// stuckReader ignores CancelCapture.
type stuckReader struct {
	*simreader.Reader
	release chan struct{}
}

func (s stuckReader) Capture(device.CaptureRequest) (device.CaptureResult, error) {
	<-s.release
	return device.CaptureResult{Quality: device.QualityCanceled}, nil
}

func TestRun_ReturnsWithinGraceWhenReaderIgnoresCancel(t *testing.T) {
	s := stuckReader{Reader: openReader(t), release: make(chan struct{})}
	defer close(s.release)

	cfg := testConfig()
	cfg.Timeout = 0
	cfg.CancelGrace = 40 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	o := Run(ctx, s, cfg)

	if o.Quality != QualityCanceled {
		t.Errorf("Quality = %v, want %v", o.Quality, QualityCanceled)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Run took %v, want bounded by grace", elapsed)
	}
}

func TestRun_SettledAfterReaderReturns(t *testing.T) {
	s := stuckReader{Reader: openReader(t), release: make(chan struct{})}

	cfg := testConfig()
	cfg.Timeout = 0
	cfg.CancelGrace = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	o := Run(ctx, s, cfg)
	if o.Quality != QualityCanceled {
		t.Fatalf("Quality = %v, want %v", o.Quality, QualityCanceled)
	}

	select {
	case <-o.Settled():
		t.Fatal("Settled closed while the reader call is still blocked")
	default:
	}

	released := make(chan struct{})
	o.AfterSettled(func() { close(released) })

	close(s.release)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("AfterSettled callback did not run after the reader returned")
	}
	select {
	case <-o.Settled():
	default:
		t.Error("Settled still open after the reader returned")
	}
}

func TestOutcome_SettledWithoutCapture(t *testing.T) {
	o := canceled()

	ran := false
	o.AfterSettled(func() { ran = true })

	if !ran {
		t.Error("AfterSettled must run inline when no reader call is pending")
	}
}

// panicReader panics inside Capture.
type panicReader struct{ *simreader.Reader }

func (panicReader) Capture(device.CaptureRequest) (device.CaptureResult, error) {
	panic("driver bug")
}

func TestRun_RecoversDriverPanic(t *testing.T) {
	o := Run(context.Background(), panicReader{openReader(t)}, testConfig())

	if !o.HardFault() {
		t.Errorf("Run() = (%v, %v), want hard fault", o.Quality, o.Err)
	}
}

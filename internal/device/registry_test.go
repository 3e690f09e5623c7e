package device

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

// fakeReader is a minimal Reader for registry tests.
type fakeReader struct {
	mu        sync.Mutex
	desc      Description
	caps      Capabilities
	capsErr   error
	openErr   error
	descErr   error
	open      bool
	opens     int
	closes    int
	cancels   int
	exclusive bool
}

func newFakeReader(name string) *fakeReader {
	return &fakeReader{
		desc: Description{Name: name, Vendor: "DigitalPersona, Inc.", Technology: TechnologyOptical},
		caps: Capabilities{CanCapture: true, CanExtract: true, Resolutions: []int{500}},
	}
}

func (f *fakeReader) Open(exclusive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	f.exclusive = exclusive
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.open = false
	return nil
}

func (f *fakeReader) Status() (Status, error) { return StatusReady, nil }

func (f *fakeReader) Capture(CaptureRequest) (CaptureResult, error) {
	return CaptureResult{Quality: QualityGood, Image: []byte{1}}, nil
}

func (f *fakeReader) CancelCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeReader) Capabilities() (Capabilities, error) {
	if f.capsErr != nil {
		return Capabilities{}, f.capsErr
	}
	return f.caps, nil
}

func (f *fakeReader) Description() (Description, error) {
	if f.descErr != nil {
		return Description{}, f.descErr
	}
	return f.desc, nil
}

func (f *fakeReader) counts() (opens, closes, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes, f.cancels
}

// fakeEnumerator returns whatever readers are currently plugged in.
type fakeEnumerator struct {
	mu      sync.Mutex
	readers []Reader
	err     error
}

func (e *fakeEnumerator) Readers(context.Context) ([]Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return slices.Clone(e.readers), nil
}

func (e *fakeEnumerator) set(readers ...Reader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readers = readers
}

// fakeTask is a Task whose loop "exits" when Cancel is called.
type fakeTask struct {
	mode TaskMode
	once sync.Once
	done chan struct{}
}

func newFakeTask(mode TaskMode) *fakeTask {
	return &fakeTask{mode: mode, done: make(chan struct{})}
}

func (t *fakeTask) Cancel()               { t.once.Do(func() { close(t.done) }) }
func (t *fakeTask) Done() <-chan struct{} { return t.done }
func (t *fakeTask) Mode() TaskMode        { return t.mode }

func (t *fakeTask) cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func spawnFake(mode TaskMode) (SpawnFunc, **fakeTask) {
	var last *fakeTask
	return func(Reader) (Task, error) {
		last = newFakeTask(mode)
		return last, nil
	}, &last
}

func newTestRegistry(t *testing.T, readers ...Reader) (*Registry, *fakeEnumerator) {
	t.Helper()
	enum := &fakeEnumerator{readers: readers}
	reg := NewRegistry(enum, DefaultCompatibility())
	if _, err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	return reg, enum
}

func TestRefresh_RegistersCompatibleReaders(t *testing.T) {
	r1 := newFakeReader("R1")
	r2 := newFakeReader("R2")

	reg, _ := newTestRegistry(t, r2, r1)

	names := reg.Names()
	if !slices.Equal(names, []string{"R1", "R2"}) {
		t.Errorf("Names() = %v, want [R1 R2]", names)
	}
	if !r1.open || !r1.exclusive {
		t.Error("R1 should be opened exclusively")
	}
	if !reg.IsKnown("R1") {
		t.Error("IsKnown(R1) = false, want true")
	}
	if reg.IsKnown("R3") {
		t.Error("IsKnown(R3) = true, want false")
	}
}

func TestRefresh_RejectsIncompatibleAfterOpening(t *testing.T) {
	wrongVendor := newFakeReader("vendor")
	wrongVendor.desc.Vendor = "Acme Sensors"

	thermal := newFakeReader("thermal")
	thermal.desc.Technology = TechnologyThermal

	noCapture := newFakeReader("nocap")
	noCapture.caps.CanCapture = false

	capsFail := newFakeReader("capsfail")
	capsFail.capsErr = errors.New("usb stall")

	openFail := newFakeReader("openfail")
	openFail.openErr = errors.New("in use")

	reg, _ := newTestRegistry(t, wrongVendor, thermal, noCapture, capsFail, openFail)

	if names := reg.Names(); len(names) != 0 {
		t.Fatalf("Names() = %v, want empty", names)
	}
	for _, f := range []*fakeReader{wrongVendor, thermal, noCapture, capsFail} {
		opens, closes, _ := f.counts()
		if opens != 1 || closes != 1 {
			t.Errorf("%s: opens=%d closes=%d, want 1/1", f.desc.Name, opens, closes)
		}
	}
	if _, closes, _ := openFail.counts(); closes != 0 {
		t.Errorf("openfail closes = %d, want 0", closes)
	}
}

func TestRefresh_Idempotent(t *testing.T) {
	r1 := newFakeReader("R1")
	reg, _ := newTestRegistry(t, r1)

	for range 3 {
		names, err := reg.Refresh(context.Background())
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if !slices.Equal(names, []string{"R1"}) {
			t.Errorf("Refresh() = %v, want [R1]", names)
		}
	}
	if opens, closes, _ := r1.counts(); opens != 1 || closes != 0 {
		t.Errorf("opens=%d closes=%d, want 1/0", opens, closes)
	}
}

func TestRefresh_EnumerationError(t *testing.T) {
	r1 := newFakeReader("R1")
	reg, enum := newTestRegistry(t, r1)

	enum.err = errors.New("bus reset")
	if _, err := reg.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() should fail when enumeration fails")
	}
	if !reg.IsKnown("R1") {
		t.Error("failed enumeration must not drop readers")
	}
}

func TestRefresh_SkipsDuplicatesAndNamelessReaders(t *testing.T) {
	a := newFakeReader("R1")
	b := newFakeReader("R1")
	nameless := newFakeReader("")
	broken := newFakeReader("broken")
	broken.descErr = errors.New("no descriptor")

	reg, _ := newTestRegistry(t, a, b, nameless, broken)

	if names := reg.Names(); !slices.Equal(names, []string{"R1"}) {
		t.Errorf("Names() = %v, want [R1]", names)
	}
	if opens, _, _ := b.counts(); opens != 0 {
		t.Error("duplicate reader should not be opened")
	}
}

func TestRefresh_DisconnectCascades(t *testing.T) {
	r1 := newFakeReader("R1")
	r2 := newFakeReader("R2")
	reg, enum := newTestRegistry(t, r1, r2)

	var removed []string
	reg.OnRemove(func(name string) { removed = append(removed, name) })

	if err := reg.Reserve("R1", "sessA"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	spawn, last := spawnFake(ModeCapture)
	if _, _, err := reg.StartTask("R1", TaskOptions{Session: "sessA", Mode: ModeCapture}, spawn); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}

	enum.set(r2)
	names, err := reg.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !slices.Equal(names, []string{"R2"}) {
		t.Errorf("Refresh() = %v, want [R2]", names)
	}
	if !(*last).cancelled() {
		t.Error("task of removed reader should be cancelled")
	}
	if _, closes, cancels := r1.counts(); closes != 1 || cancels != 1 {
		t.Errorf("R1 closes=%d cancels=%d, want 1/1", closes, cancels)
	}
	if reg.IsReserved("R1") {
		t.Error("reservation of removed reader should be released")
	}
	if slices.Contains(reg.ListAvailable(), "R1") {
		t.Error("removed reader must not be listed as available")
	}
	if !slices.Equal(removed, []string{"R1"}) {
		t.Errorf("OnRemove got %v, want [R1]", removed)
	}

	// The session is free to reserve another reader.
	if err := reg.Reserve("R2", "sessA"); err != nil {
		t.Errorf("Reserve(R2, sessA) error = %v", err)
	}
}

func TestRefresh_Reconnect(t *testing.T) {
	r1 := newFakeReader("R1")
	reg, enum := newTestRegistry(t, r1)

	enum.set()
	if _, err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	enum.set(r1)
	if _, err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !reg.IsKnown("R1") {
		t.Error("reconnected reader should be registered again")
	}
	if opens, _, _ := r1.counts(); opens != 2 {
		t.Errorf("opens = %d, want 2", opens)
	}
}

func TestInfo(t *testing.T) {
	r1 := newFakeReader("R1")
	reg, _ := newTestRegistry(t, r1)

	if _, err := reg.Info("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Info(missing) error = %v, want ErrDeviceNotFound", err)
	}

	_ = reg.Reserve("R1", "sessA")
	info, err := reg.Info("R1")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.ReservedBy != "sessA" {
		t.Errorf("ReservedBy = %q, want sessA", info.ReservedBy)
	}
	if !info.Capabilities.CanCapture {
		t.Error("Capabilities.CanCapture = false, want true")
	}
	if len(reg.Infos()) != 1 {
		t.Errorf("Infos() len = %d, want 1", len(reg.Infos()))
	}
}

func TestClose(t *testing.T) {
	r1 := newFakeReader("R1")
	reg, _ := newTestRegistry(t, r1)
	_ = reg.Reserve("R1", "sessA")

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if reg.IsKnown("R1") || reg.IsReserved("R1") {
		t.Error("Close() should empty the registry")
	}
	if r1.open {
		t.Error("Close() should close readers")
	}
}

package simreader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fingerprint-core/internal/device"
)

// Bus is a device.Enumerator over attached simulated readers.
type Bus struct {
	mu      sync.Mutex
	readers []*Reader
	err     error
}

// NewBus creates a bus with the given readers attached.
func NewBus(readers ...*Reader) *Bus {
	return &Bus{readers: readers}
}

// Readers implements device.Enumerator.
func (b *Bus) Readers(ctx context.Context) ([]device.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	out := make([]device.Reader, 0, len(b.readers))
	for _, r := range b.readers {
		out = append(out, r)
	}
	return out, nil
}

// Attach plugs a reader in.
func (b *Bus) Attach(r *Reader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readers = append(b.readers, r)
}

// Detach unplugs the reader with the given name.
func (b *Bus) Detach(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.readers[:0]
	for _, r := range b.readers {
		if r.Name() != name {
			kept = append(kept, r)
		}
	}
	b.readers = kept
}

// FailEnumeration makes Readers return err. Pass nil to clear.
func (b *Bus) FailEnumeration(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// AutoTouch presents a synthetic finger to r every interval until ctx is
// done. Images cycle through the given number of distinct patterns so an
// enrolled finger is recognised again later.
func AutoTouch(ctx context.Context, r *Reader, interval time.Duration, fingers int) {
	if fingers < 1 {
		fingers = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		res := device.CaptureResult{
			Quality: device.QualityGood,
			Image:   []byte(fmt.Sprintf("sim:%s:finger-%d", r.Name(), i%fingers)),
			Score:   80, //nolint:mnd // fixed synthetic image quality
		}
		touchCtx, cancel := context.WithTimeout(ctx, interval)
		_ = r.Touch(touchCtx, res) // no capture waiting is fine
		cancel()
	}
}

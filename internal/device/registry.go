package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is the registry's record of one opened, compatible reader.
type entry struct {
	reader       Reader
	desc         Description
	caps         Capabilities
	task         Task
	// stopping holds a cancelled task until its loop has exited. The
	// reader is not handed out again while it is set.
	stopping     Task
	leased       bool
	discoveredAt time.Time
}

// Registry owns the set of opened readers, their reservations and their
// task slots.
//
// The three maps are guarded by one mutex so that check-then-act sequences
// never race: a reservation or task can only reference a reader that is
// currently registered.
//
// All public methods are thread-safe.
type Registry struct {
	enum   Enumerator
	compat Compatibility

	refreshMu sync.Mutex // Serialises Refresh passes

	mu       sync.Mutex
	readers  map[string]*entry
	owners   map[string]string // reader name -> session id
	sessions map[string]string // session id -> reader name
	onRemove []func(name string)

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry that discovers readers through enum and
// admits only those passing compat.
func NewRegistry(enum Enumerator, compat Compatibility) *Registry {
	return &Registry{
		enum:     enum,
		compat:   compat,
		readers:  make(map[string]*entry),
		owners:   make(map[string]string),
		sessions: make(map[string]string),
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnRemove registers fn to be called with the name of every reader the
// registry drops. Callbacks run after the registry lock is released.
func (r *Registry) OnRemove(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// candidate is a reader seen during enumeration.
type candidate struct {
	reader Reader
	desc   Description
}

// Refresh reconciles the registry with the readers currently present.
//
// Readers that disappeared have their task cancelled, their reservation
// released and their handle closed, all under the registry lock. New readers
// are opened exclusively and then checked for compatibility; incompatible
// ones are closed and discarded. Readers already registered are left alone,
// so repeated calls without a topology change are no-ops.
//
// Returns the sorted names of all registered readers.
func (r *Registry) Refresh(ctx context.Context) ([]string, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	present, err := r.enum.Readers(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating readers: %w", err)
	}

	seen := make(map[string]candidate, len(present))
	order := make([]string, 0, len(present))
	for _, rd := range present {
		desc, err := rd.Description()
		if err != nil {
			r.logger.Warn("skipping reader without description", "error", err)
			continue
		}
		if desc.Name == "" {
			r.logger.Warn("skipping reader with empty name", "vendor", desc.Vendor)
			continue
		}
		if _, dup := seen[desc.Name]; dup {
			continue
		}
		seen[desc.Name] = candidate{reader: rd, desc: desc}
		order = append(order, desc.Name)
	}

	var removed []string
	r.mu.Lock()
	for name, e := range r.readers {
		if _, ok := seen[name]; !ok {
			r.removeLocked(name, e)
			removed = append(removed, name)
		}
	}
	known := make(map[string]bool, len(r.readers))
	for name := range r.readers {
		known[name] = true
	}
	hooks := slices.Clone(r.onRemove)
	r.mu.Unlock()

	r.notifyRemoved(hooks, removed)

	for _, name := range order {
		if known[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.Names(), fmt.Errorf("refresh interrupted: %w", err)
		}
		c := seen[name]
		caps, ok := r.admit(c)
		if !ok {
			continue
		}

		r.mu.Lock()
		r.readers[name] = &entry{
			reader:       c.reader,
			desc:         c.desc,
			caps:         caps,
			discoveredAt: r.now(),
		}
		r.mu.Unlock()

		r.logger.Info("reader registered",
			"reader", name,
			"vendor", c.desc.Vendor,
			"technology", c.desc.Technology,
			"can_extract", caps.CanExtract,
		)
	}

	return r.Names(), nil
}

// admit opens a new reader and runs the compatibility check against it.
// The handle is closed again on any failure.
func (r *Registry) admit(c candidate) (Capabilities, bool) {
	name := c.desc.Name
	if err := c.reader.Open(true); err != nil {
		r.logger.Warn("opening reader failed", "reader", name, "error", err)
		return Capabilities{}, false
	}

	if err := r.compat.Check(c.reader, c.desc); err != nil {
		r.logger.Info("reader rejected", "reader", name, "error", err)
		if cerr := c.reader.Close(); cerr != nil {
			r.logger.Debug("closing rejected reader failed", "reader", name, "error", cerr)
		}
		return Capabilities{}, false
	}

	caps, err := c.reader.Capabilities()
	if err != nil {
		// Check already succeeded; keep what it saw as the minimum.
		caps = Capabilities{CanCapture: true}
	}
	if !caps.CanExtract {
		r.logger.Debug("reader cannot extract on device", "reader", name)
	}
	return caps, true
}

// removeLocked drops a reader: cancel its task, release its reservation,
// close its handle. r.mu must be held.
func (r *Registry) removeLocked(name string, e *entry) {
	if e.task != nil {
		e.task.Cancel()
		e.task = nil
		r.cancelCapture(name, e.reader)
	} else if e.leased {
		r.cancelCapture(name, e.reader)
	}

	if session, ok := r.releaseLocked(name); ok {
		r.logger.Info("reservation revoked by disconnect", "reader", name, "session", session)
	}

	if err := e.reader.Close(); err != nil {
		r.logger.Warn("closing reader failed", "reader", name, "error", err)
	}
	delete(r.readers, name)
	r.logger.Info("reader removed", "reader", name)
}

func (r *Registry) notifyRemoved(hooks []func(string), names []string) {
	for _, name := range names {
		for _, fn := range hooks {
			fn(name)
		}
	}
}

// cancelCapture unblocks an in-flight capture. Errors are only logged.
func (r *Registry) cancelCapture(name string, rd Reader) {
	if err := rd.CancelCapture(); err != nil {
		r.logger.Debug("cancel capture failed", "reader", name, "error", err)
	}
}

// IsKnown reports whether the reader is registered.
func (r *Registry) IsKnown(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.readers[name]
	return ok
}

// Names returns the sorted names of all registered readers.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.readers))
	for name := range r.readers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ListAvailable returns the sorted names of registered readers that no
// session holds. The result is advisory; only Reserve is authoritative.
func (r *Registry) ListAvailable() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.readers))
	for name := range r.readers {
		if _, held := r.owners[name]; !held {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Info returns a snapshot of one reader.
// Returns ErrDeviceNotFound if the reader is not registered.
func (r *Registry) Info(name string) (ReaderInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.readers[name]
	if !ok {
		return ReaderInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return r.infoLocked(name, e), nil
}

// Infos returns snapshots of every registered reader, sorted by name.
func (r *Registry) Infos() []ReaderInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]ReaderInfo, 0, len(r.readers))
	for name, e := range r.readers {
		infos = append(infos, r.infoLocked(name, e))
	}
	slices.SortFunc(infos, func(a, b ReaderInfo) int {
		switch {
		case a.Description.Name < b.Description.Name:
			return -1
		case a.Description.Name > b.Description.Name:
			return 1
		}
		return 0
	})
	return infos
}

func (r *Registry) infoLocked(name string, e *entry) ReaderInfo {
	info := ReaderInfo{
		Description:  e.desc,
		Capabilities: e.caps,
		ReservedBy:   r.owners[name],
		Leased:       e.leased,
		DiscoveredAt: e.discoveredAt,
	}
	info.Capabilities.Resolutions = slices.Clone(e.caps.Resolutions)
	if t := e.liveTask(); t != nil {
		info.TaskMode = t.Mode()
	}
	return info
}

// Watch runs Refresh every interval until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("periodic reader refresh failed", "error", err)
			}
		}
	}
}

// Close cancels every task, drops every reservation and closes every
// reader. The registry is empty afterwards and may be refreshed again.
func (r *Registry) Close() error {
	r.mu.Lock()
	var errs []error
	removed := make([]string, 0, len(r.readers))
	for name, e := range r.readers {
		if e.task != nil {
			e.task.Cancel()
			e.task = nil
			r.cancelCapture(name, e.reader)
		}
		if err := e.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		removed = append(removed, name)
	}
	r.readers = make(map[string]*entry)
	r.owners = make(map[string]string)
	r.sessions = make(map[string]string)
	hooks := slices.Clone(r.onRemove)
	r.mu.Unlock()

	r.notifyRemoved(hooks, removed)
	return errors.Join(errs...)
}

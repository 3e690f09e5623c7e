package device

import (
	"fmt"
	"sync"
)

// TaskOptions describes who starts a task and how.
type TaskOptions struct {
	// Session is the caller's session. A reader reserved by a different
	// session cannot get a task. Empty means "no session".
	Session string
	// Mode is recorded on the slot and compared for idempotent starts.
	Mode TaskMode
	// Reserve makes the task take the reservation for Session.
	Reserve bool
}

// SpawnFunc starts a loop on the given reader and returns its handle.
// It is called with the registry lock held and must not block or call
// back into the registry.
type SpawnFunc func(Reader) (Task, error)

// finished reports whether the task's loop has exited.
func finished(t Task) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// liveTask returns the task still driving the reader: the current one, or
// a cancelled one whose loop has not exited yet.
func (e *entry) liveTask() Task {
	if e.task != nil && !finished(e.task) {
		return e.task
	}
	if e.stopping != nil && !finished(e.stopping) {
		return e.stopping
	}
	return nil
}

// stoppingErr reports a cancelled task that still drives the reader.
func (e *entry) stoppingErr(name string) error {
	if e.stopping != nil && !finished(e.stopping) {
		return fmt.Errorf("%w: %s is still stopping a %s task", ErrCaptureActive, name, e.stopping.Mode())
	}
	return nil
}

// StartTask fills the reader's task slot if it is empty.
//
// A task cancelled by StopTask keeps the reader until its loop exits;
// starting meanwhile yields ErrCaptureActive.
//
// The check for reader, reservation and existing task and the insert of the
// new task happen under a single lock acquisition. When a live task with the
// same mode already occupies the slot it is returned with started=false.
// A live task with a different mode, or an active single-shot lease, yields
// ErrCaptureActive.
func (r *Registry) StartTask(name string, opts TaskOptions, spawn SpawnFunc) (task Task, started bool, err error) {
	if opts.Reserve && opts.Session == "" {
		return nil, false, ErrEmptySession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.readers[name]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if owner, held := r.owners[name]; held && owner != opts.Session {
		return nil, false, fmt.Errorf("%w: %s", ErrDeviceAlreadyReserved, name)
	}
	if e.task != nil && !finished(e.task) {
		if e.task.Mode() == opts.Mode {
			return e.task, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s runs a %s task", ErrCaptureActive, name, e.task.Mode())
	}
	if err := e.stoppingErr(name); err != nil {
		return nil, false, err
	}
	if e.leased {
		return nil, false, fmt.Errorf("%w: %s is leased for a single capture", ErrCaptureActive, name)
	}

	t, err := spawn(e.reader)
	if err != nil {
		return nil, false, err
	}
	if opts.Reserve {
		r.reserveLocked(name, opts.Session)
	}
	e.task = t

	r.logger.Info("capture task started", "reader", name, "mode", opts.Mode, "session", opts.Session)
	return t, true, nil
}

// FinishTask deregisters t after its loop exited. When releaseSession is
// set and no newer task took the slot, the reservation held by that
// session is released as well.
func (r *Registry) FinishTask(name string, t Task, releaseSession string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.readers[name]
	if !ok {
		return
	}
	if e.task == t {
		e.task = nil
	}
	if e.stopping == t {
		e.stopping = nil
	}
	if releaseSession != "" && e.task == nil {
		if r.releaseIfOwner(name, releaseSession) {
			r.logger.Debug("task reservation released", "reader", name, "session", releaseSession)
		}
	}
}

// StopTask cancels the reader's task and unblocks any capture in flight.
// The task moves to the stopping slot, which FinishTask clears once the
// loop has exited. It returns the stopped task so the caller can wait on
// Done.
func (r *Registry) StopTask(name string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.readers[name]
	if !ok || e.task == nil {
		return nil, false
	}
	t := e.task
	r.stopLocked(name, e)
	return t, true
}

func (r *Registry) stopLocked(name string, e *entry) {
	t := e.task
	e.task = nil
	if !finished(t) {
		e.stopping = t
	}
	t.Cancel()
	r.cancelCapture(name, e.reader)
}

// StopAllTasks stops every task and returns them keyed by reader name.
func (r *Registry) StopAllTasks() map[string]Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	stopped := make(map[string]Task)
	for name, e := range r.readers {
		if e.task == nil {
			continue
		}
		stopped[name] = e.task
		r.stopLocked(name, e)
	}
	return stopped
}

// TaskOf returns the task still driving the reader, including a cancelled
// one that has not exited yet.
func (r *Registry) TaskOf(name string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.readers[name]
	if !ok {
		return nil, false
	}
	t := e.liveTask()
	return t, t != nil
}

// Lease hands out the reader for one single-shot capture. While leased
// the reader cannot get a task. The returned release func is idempotent.
func (r *Registry) Lease(name string) (Reader, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.readers[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if e.task != nil && !finished(e.task) {
		return nil, nil, fmt.Errorf("%w: %s runs a %s task", ErrCaptureActive, name, e.task.Mode())
	}
	if err := e.stoppingErr(name); err != nil {
		return nil, nil, err
	}
	if e.leased {
		return nil, nil, fmt.Errorf("%w: %s is leased for a single capture", ErrCaptureActive, name)
	}
	e.leased = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if cur, ok := r.readers[name]; ok && cur == e {
				e.leased = false
			}
		})
	}
	return e.reader, release, nil
}

package device

import "fmt"

// Reserve grants session exclusive ownership of the reader.
//
// A session holds at most one reader: on success any other reader the
// session held is released. Reserving a reader the session already holds
// succeeds without change. Fails with ErrDeviceNotFound or
// ErrDeviceAlreadyReserved and leaves all state untouched.
func (r *Registry) Reserve(name, session string) error {
	if session == "" {
		return ErrEmptySession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.readers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if owner, held := r.owners[name]; held {
		if owner == session {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDeviceAlreadyReserved, name)
	}

	r.reserveLocked(name, session)
	r.logger.Info("reader reserved", "reader", name, "session", session)
	return nil
}

// reserveLocked records the mapping, evicting the session's previous
// reader. r.mu must be held and name must be unowned.
func (r *Registry) reserveLocked(name, session string) {
	if prev, ok := r.sessions[session]; ok && prev != name {
		delete(r.owners, prev)
		r.logger.Debug("previous reservation released", "reader", prev, "session", session)
	}
	r.sessions[session] = name
	r.owners[name] = session
}

// releaseLocked clears the reservation on name. r.mu must be held.
func (r *Registry) releaseLocked(name string) (string, bool) {
	session, ok := r.owners[name]
	if !ok {
		return "", false
	}
	delete(r.owners, name)
	delete(r.sessions, session)
	return session, true
}

// Release clears any reservation on the reader. It is idempotent.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.releaseLocked(name); ok {
		r.logger.Info("reader released", "reader", name, "session", session)
	}
}

// ReleaseBySession clears the reservation held by session, if any, and
// returns the reader it held. It is idempotent.
func (r *Registry) ReleaseBySession(session string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.sessions[session]
	if !ok {
		return "", false
	}
	r.releaseLocked(name)
	r.logger.Info("session reservation released", "reader", name, "session", session)
	return name, true
}

// releaseIfOwner clears the reservation only when session still holds it.
func (r *Registry) releaseIfOwner(name, session string) bool {
	if owner, ok := r.owners[name]; !ok || owner != session {
		return false
	}
	r.releaseLocked(name)
	return true
}

// ReleaseIfOwner clears the reservation on name when session holds it.
func (r *Registry) ReleaseIfOwner(name, session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseIfOwner(name, session)
}

// IsReserved reports whether any session holds the reader.
func (r *Registry) IsReserved(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.owners[name]
	return held
}

// ReservationOf returns the session holding the reader.
func (r *Registry) ReservationOf(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, held := r.owners[name]
	return session, held
}

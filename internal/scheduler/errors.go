package scheduler

import "errors"

var (
	// ErrTooManyConsecutiveErrors is the circuit breaker trip reason.
	ErrTooManyConsecutiveErrors = errors.New("scheduler: too many consecutive capture errors")

	// ErrWorkerPoolExhausted is returned when every pool slot runs a loop.
	ErrWorkerPoolExhausted = errors.New("scheduler: worker pool exhausted")

	// ErrNoIdentifier is returned when attendance mode is started without
	// a matching engine and identification gallery.
	ErrNoIdentifier = errors.New("scheduler: identification not configured")
)

package registry

import "errors"

// Store failure kinds. Callers branch on these with errors.Is; anything else
// coming out of the store is an internal database error.
var (
	// ErrWorkerExists means the worker name already has a binding, active or
	// unbound. Worker names are claimed forever.
	ErrWorkerExists = errors.New("worker already registered")

	// ErrQuotaExceeded means the hotkey already holds the maximum number of
	// active bindings.
	ErrQuotaExceeded = errors.New("maximum number of workers for this hotkey reached")

	// ErrNotFound means no binding exists for the (hotkey, worker) pair.
	ErrNotFound = errors.New("worker not found for this hotkey")

	// ErrAlreadyUnbound means the binding already carries an unbind signature.
	ErrAlreadyUnbound = errors.New("worker already unbound")
)

package acquire

import "errors"

// Sentinel errors for session control. The HTTP layer maps these onto
// status codes, so callers wrap rather than replace them.
var (
	// ErrInvalidParameter rejects a source configuration outside the
	// accepted ranges.
	ErrInvalidParameter = errors.New("invalid acquisition parameter")

	// ErrAlreadyRunning rejects a Start while a run is counting down or
	// acquiring.
	ErrAlreadyRunning = errors.New("a run is already active")

	// ErrNotRunning rejects a Stop when no run is active.
	ErrNotRunning = errors.New("no active run")

	// ErrStreamFailure marks a run that was forced down because the
	// sensor stream died underneath it.
	ErrStreamFailure = errors.New("sensor stream failed")
)

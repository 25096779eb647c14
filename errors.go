package flowtrace

import "errors"

// Sentinel errors for the small set of fallible construction/configuration
// paths. record() itself is infallible per spec §7; these only ever surface
// from New, Option application, and handler registration.
var (
	// ErrNilHandler is returned when RegisterHandler is called with a nil
	// SnapshotHandler.
	ErrNilHandler = errors.New("flowtrace: nil handler")

	// ErrInvalidConfig is returned by New when an Option is given a value
	// defaults cannot repair (e.g. a non-positive WithMaxNodes or
	// WithMaxDepth).
	ErrInvalidConfig = errors.New("flowtrace: invalid config")

	// ErrShuttingDown is returned by RegisterHandler once Shutdown has been
	// called. Record and its variants do not return it; they become no-ops.
	ErrShuttingDown = errors.New("flowtrace: shutting down")
)

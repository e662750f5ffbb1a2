package store

import "errors"

// Typed error kinds returned at the Store boundary. Callers should use
// errors.Is against these sentinels rather than matching driver-specific
// error strings.
var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned on a unique-constraint violation.
	ErrConflict = errors.New("store: conflict")
	// ErrCorrupt is returned when the database fails integrity checks or a
	// migration cannot be applied; callers should refuse to serve.
	ErrCorrupt = errors.New("store: corrupt")
	// ErrBusy is returned when the single writer is contended; callers
	// should retry.
	ErrBusy = errors.New("store: busy")
)

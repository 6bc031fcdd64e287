package store

import "errors"

var (
	// ErrNotFound is returned when a read references an id that was
	// never written.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable is returned when a backend's storage location
	// cannot be opened or created.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrCapacityExceeded is returned when the mdbx backend's
	// preallocated map capacity is exhausted mid-write. The failing
	// transaction aborts, so the batch rolls back in full.
	ErrCapacityExceeded = errors.New("backend capacity exceeded")
)

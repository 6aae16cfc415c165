package kv

import "errors"

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrUnavailable is returned when the store cannot be reached or a
	// round-trip exceeds its deadline. Callers decide per operation
	// whether to fail open or closed.
	ErrUnavailable = errors.New("kv: store unavailable")
)

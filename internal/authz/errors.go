package authz

import "errors"

var (
	// ErrNotFound is returned when a named role or permission definition
	// does not exist. Missing assignments are not an error: a principal
	// with no assignment simply has no permissions.
	ErrNotFound = errors.New("authz: not found")

	// ErrUnknownQuotaClass is returned when a quota check names a class
	// with no configured default limit and no per-principal override.
	ErrUnknownQuotaClass = errors.New("authz: unknown quota class")

	// ErrConflict is returned when a conditional assignment update keeps
	// losing against concurrent writers.
	ErrConflict = errors.New("authz: concurrent assignment update conflict")
)

package auth

import "errors"

var (
	// ErrMissingCredentials is returned when a request carries no
	// credential at all.
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrInvalidCredentials is returned when a presented credential does
	// not validate. Deliberately carries no detail about which check
	// failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrBadSignature is returned when a payload signature is missing or
	// does not match.
	ErrBadSignature = errors.New("auth: bad payload signature")

	// ErrDuplicateKey is returned when issuing a service key under a
	// name that is already taken.
	ErrDuplicateKey = errors.New("auth: service key name already exists")
)

package server

import (
	"encoding/json"
	"net/http"
)

// Stable machine-readable error codes. Authentication and authorization
// failures never carry internal detail beyond these tags; infrastructure
// errors are logged in full internally and surfaced only as
// temporarily_unavailable.
const (
	// ErrCodeInvalidRequest indicates a malformed request body or path.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeAuthenticationFailed indicates a missing or invalid
	// credential. Never retried automatically.
	ErrCodeAuthenticationFailed = "authentication_failed"

	// ErrCodeAuthorizationDenied indicates a valid caller lacking the
	// required permission.
	ErrCodeAuthorizationDenied = "authorization_denied"

	// ErrCodeBadSignature indicates a missing or mismatched payload
	// integrity signature.
	ErrCodeBadSignature = "bad_signature"

	// ErrCodeRateLimited indicates the caller exceeded its request-rate
	// tier; the response carries a retry-after duration.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeNotRevertible indicates a rollback was requested for a
	// migration without a revert step.
	ErrCodeNotRevertible = "not_revertible"

	// ErrCodeConflict indicates a conditional update kept losing against
	// concurrent writers.
	ErrCodeConflict = "conflict"

	// ErrCodeUnavailable indicates a transient store failure. Opaque on
	// purpose: the detail stays in the logs.
	ErrCodeUnavailable = "temporarily_unavailable"

	// ErrCodeInternalError indicates an unexpected server error.
	ErrCodeInternalError = "internal_error"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithHint(w, status, code, message, "")
}

// WriteErrorWithHint writes a JSON error response with an optional hint.
func WriteErrorWithHint(w http.ResponseWriter, status int, code, message, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := APIError{Error: code, Message: message, Hint: hint}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		// Response already started, nothing we can do.
		_ = err
	}
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err
	}
}

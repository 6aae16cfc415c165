// Package logging provides utilities for secure logging with credential
// masking.
package logging

import "strings"

// MaskHeader redacts sensitive header values based on header name.
//
// Rules:
//   - Secret-bearing headers: "[REDACTED]" (no partial reveal)
//   - Credential headers: "****" + last 4 chars, enough to correlate
//     without exposing the credential
//   - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "password") {
		return "[REDACTED]"
	}

	if lowerName == "authorization" ||
		lowerName == "x-service-key" ||
		lowerName == "x-access-signature" {
		if len(value) < 4 {
			return "****"
		}
		return "****" + value[len(value)-4:]
	}

	return value
}

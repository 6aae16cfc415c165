package auth

import (
	"errors"
	"testing"
)

var signSecret = []byte("signing-shared-secret")

// TestSignVerifyRoundTrip verifies a signature produced by SignPayload
// validates with the same secret, principal, and payload.
func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"role":"moderator"}`)

	sig := SignPayload(signSecret, "p1", payload)
	if err := VerifyPayload(signSecret, "p1", payload, sig); err != nil {
		t.Fatalf("VerifyPayload: %v", err)
	}
}

// TestVerifyRejectsTampering verifies any change to payload, principal,
// secret, or signature fails verification.
func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"role":"moderator"}`)
	sig := SignPayload(signSecret, "p1", payload)

	tests := []struct {
		name      string
		secret    []byte
		principal string
		payload   []byte
		signature string
	}{
		{"tampered payload", signSecret, "p1", []byte(`{"role":"admin"}`), sig},
		{"different principal", signSecret, "p2", payload, sig},
		{"different secret", []byte("other-secret"), "p1", payload, sig},
		{"truncated signature", signSecret, "p1", payload, sig[:len(sig)-2]},
		{"missing signature", signSecret, "p1", payload, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPayload(tt.secret, tt.principal, tt.payload, tt.signature)
			if !errors.Is(err, ErrBadSignature) {
				t.Fatalf("want ErrBadSignature, got %v", err)
			}
		})
	}
}

// TestSignatureBindsPrincipal verifies the tenant-binding property
// directly: identical payloads signed for two principals produce distinct
// signatures, so a captured signature cannot be replayed across tenants.
func TestSignatureBindsPrincipal(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"role":"moderator"}`)

	sigA := SignPayload(signSecret, "tenant-a", payload)
	sigB := SignPayload(signSecret, "tenant-b", payload)
	if sigA == sigB {
		t.Fatal("signatures for different principals collide")
	}
	if err := VerifyPayload(signSecret, "tenant-b", payload, sigA); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("cross-tenant replay: want ErrBadSignature, got %v", err)
	}
}

// TestEmptyPayloadSignature verifies bodiless calls sign the empty
// payload, still bound to the principal.
func TestEmptyPayloadSignature(t *testing.T) {
	t.Parallel()

	sig := SignPayload(signSecret, "p1", nil)
	if err := VerifyPayload(signSecret, "p1", nil, sig); err != nil {
		t.Fatalf("VerifyPayload: %v", err)
	}
	if err := VerifyPayload(signSecret, "p2", nil, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("empty payload cross-tenant: want ErrBadSignature, got %v", err)
	}
}

// TestDeriveKeyPerPrincipal verifies derived keys differ per principal and
// are stable for the same inputs.
func TestDeriveKeyPerPrincipal(t *testing.T) {
	t.Parallel()

	a1 := DeriveKey(signSecret, "tenant-a")
	a2 := DeriveKey(signSecret, "tenant-a")
	b := DeriveKey(signSecret, "tenant-b")
	if string(a1) != string(a2) {
		t.Fatal("derived key not deterministic")
	}
	if string(a1) == string(b) {
		t.Fatal("derived keys collide across principals")
	}
}

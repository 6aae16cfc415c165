package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/overlaykit/access-core/internal/testutil/memstore"
)

// TestKeyStoreIssueVerify verifies an issued key's plaintext validates and
// resolves back to the key's name, while the stored record holds only a
// hash.
func TestKeyStoreIssueVerify(t *testing.T) {
	t.Parallel()
	mem := memstore.New()
	keys := NewKeyStore(mem, "acc")
	ctx := context.Background()

	plaintext, err := keys.Issue(ctx, "overlay-service")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(plaintext) != 64 {
		t.Fatalf("plaintext length: want 64 hex chars, got %d", len(plaintext))
	}

	name, err := keys.Verify(ctx, plaintext)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if name != "overlay-service" {
		t.Fatalf("Verify name: %q", name)
	}

	// Only the bcrypt hash is persisted.
	raw, err := mem.Get(ctx, "acc:servicekey:overlay-service")
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if strings.Contains(string(raw), plaintext) {
		t.Fatal("plaintext key persisted")
	}
}

// TestKeyStoreDuplicateName verifies a second issue under a taken name
// fails and leaves the original key working.
func TestKeyStoreDuplicateName(t *testing.T) {
	t.Parallel()
	keys := NewKeyStore(memstore.New(), "acc")
	ctx := context.Background()

	original, err := keys.Issue(ctx, "chat-service")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := keys.Issue(ctx, "chat-service"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate Issue: want ErrDuplicateKey, got %v", err)
	}
	if _, err := keys.Verify(ctx, original); err != nil {
		t.Fatalf("original key broken by duplicate issue: %v", err)
	}
}

// TestKeyStoreVerifyUnknown verifies an unknown key is invalid, not a
// store error.
func TestKeyStoreVerifyUnknown(t *testing.T) {
	t.Parallel()
	keys := NewKeyStore(memstore.New(), "acc")

	if _, err := keys.Verify(context.Background(), "never-issued"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

// TestKeyStoreListRevoke verifies listing is name-sorted and revocation
// removes exactly the named key.
func TestKeyStoreListRevoke(t *testing.T) {
	t.Parallel()
	keys := NewKeyStore(memstore.New(), "acc")
	ctx := context.Background()

	if _, err := keys.Issue(ctx, "zeta"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	alphaPlain, err := keys.Issue(ctx, "alpha")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	list, err := keys.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("List: %+v", list)
	}

	if err := keys.Revoke(ctx, "alpha"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := keys.Verify(ctx, alphaPlain); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("revoked key still verifies: %v", err)
	}
	list, err = keys.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "zeta" {
		t.Fatalf("List after revoke: %+v", list)
	}

	// Revoking an absent key is a no-op.
	if err := keys.Revoke(ctx, "alpha"); err != nil {
		t.Fatalf("Revoke absent key: %v", err)
	}
}

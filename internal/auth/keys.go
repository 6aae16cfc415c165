package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/overlaykit/access-core/internal/kv"
)

// ServiceKey is an issued per-service credential. Only the bcrypt hash is
// persisted; the plaintext is shown once at issuance.
type ServiceKey struct {
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyStore manages issued service keys in the key-value store. Each
// collaborator service gets its own named key, so one tenant's credential
// can be revoked without rotating the shared secret.
type KeyStore struct {
	kv     kv.Store
	prefix string
	now    func() time.Time
}

// NewKeyStore creates a KeyStore under the service prefix.
func NewKeyStore(backend kv.Store, prefix string) *KeyStore {
	return &KeyStore{kv: backend, prefix: prefix, now: time.Now}
}

// Issue generates a new service key under name and returns the plaintext.
// Fails with ErrDuplicateKey if the name is taken.
func (s *KeyStore) Issue(ctx context.Context, name string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate service key: %w", err)
	}
	plaintext := hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash service key: %w", err)
	}

	record, err := json.Marshal(ServiceKey{
		Name:      name,
		Hash:      string(hash),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("auth: encode service key %q: %w", name, err)
	}

	created, err := s.kv.PutIfAbsent(ctx, s.keyName(name), record, 0)
	if err != nil {
		return "", err
	}
	if !created {
		return "", fmt.Errorf("%w: %q", ErrDuplicateKey, name)
	}
	return plaintext, nil
}

// Verify checks a presented key against every issued service key and
// returns the matching key's name. bcrypt hashes are not comparable
// directly, so all keys are tried; deployments hold a handful of service
// keys at most.
func (s *KeyStore) Verify(ctx context.Context, presented string) (string, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(presented)) == nil {
			return key.Name, nil
		}
	}
	return "", ErrInvalidCredentials
}

// List returns all issued service keys sorted by name. Hashes are included;
// callers rendering the list must redact them.
func (s *KeyStore) List(ctx context.Context) ([]ServiceKey, error) {
	names, err := s.kv.List(ctx, s.prefix+":servicekey:")
	if err != nil {
		return nil, err
	}
	keys := make([]ServiceKey, 0, len(names))
	for _, n := range names {
		raw, err := s.kv.Get(ctx, n)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var key ServiceKey
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("auth: decode service key at %q: %w", n, err)
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

// Revoke deletes the named service key. Revoking an absent key is a no-op.
func (s *KeyStore) Revoke(ctx context.Context, name string) error {
	return s.kv.Delete(ctx, s.keyName(name))
}

func (s *KeyStore) keyName(name string) string {
	return s.prefix + ":servicekey:" + name
}

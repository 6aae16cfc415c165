// Package kv defines the narrow key-value store boundary the access-control
// core persists through. The production implementation is Redis; tests use
// the in-memory store from internal/testutil/memstore.
//
// The contract is deliberately small: atomic single-key read/write,
// conditional put (compare-and-swap), prefix listing, delete, and an atomic
// counter with expiry. Nothing in the core assumes multi-key transactions.
package kv

import (
	"context"
	"time"
)

// Store is the persistence boundary for all access-control state.
//
// All operations are per-key atomic. A ttl of zero means the entry does not
// expire. Implementations must bound every call with a timeout and surface
// timeouts and connectivity failures as ErrUnavailable.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put unconditionally writes value at key.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent writes value only when key does not exist. Returns true
	// if the write happened, false if the key was already present.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap writes value only when the current value at key equals
	// expected. An expected of nil means "key must be absent" (equivalent to
	// PutIfAbsent). Returns true if the swap happened, false on a
	// comparison mismatch.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// List returns all keys starting with prefix. Listing is eventually
	// consistent; callers must not rely on it for correctness-critical
	// existence checks.
	List(ctx context.Context, prefix string) ([]string, error)

	// Incr atomically increments the integer counter at key and returns
	// the new value. The ttl is applied only when the increment creates
	// the key, giving window-counter semantics.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

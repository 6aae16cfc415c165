package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Second), mr
}

// TestGetPutDelete covers the basic read/write/delete cycle.
func TestGetPutDelete(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on absent key: want ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get: want %q, got %q", "v1", got)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Delete: want ErrNotFound, got %v", err)
	}

	// Deleting an absent key is a no-op.
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete absent key: %v", err)
	}
}

// TestPutTTL verifies that entries written with a TTL expire.
func TestPutTTL(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry: want ErrNotFound, got %v", err)
	}
}

// TestPutIfAbsent verifies the conditional create only writes once.
func TestPutIfAbsent(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.PutIfAbsent(ctx, "k", []byte("first"), 0)
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if !created {
		t.Fatal("PutIfAbsent on absent key: want created")
	}

	created, err = store.PutIfAbsent(ctx, "k", []byte("second"), 0)
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if created {
		t.Fatal("PutIfAbsent on present key: want not created")
	}

	got, _ := store.Get(ctx, "k")
	if string(got) != "first" {
		t.Fatalf("losing write clobbered value: got %q", got)
	}
}

// TestCompareAndSwap covers match, mismatch, absent key, and the
// nil-expected create path.
func TestCompareAndSwap(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	// nil expected on an absent key behaves like PutIfAbsent.
	swapped, err := store.CompareAndSwap(ctx, "k", nil, []byte("v1"), 0)
	if err != nil {
		t.Fatalf("CompareAndSwap create: %v", err)
	}
	if !swapped {
		t.Fatal("CompareAndSwap with nil expected on absent key: want swapped")
	}

	// nil expected on a present key fails.
	swapped, err = store.CompareAndSwap(ctx, "k", nil, []byte("v2"), 0)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if swapped {
		t.Fatal("CompareAndSwap with nil expected on present key: want not swapped")
	}

	// Matching expected swaps.
	swapped, err = store.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"), 0)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if !swapped {
		t.Fatal("CompareAndSwap with matching expected: want swapped")
	}
	got, _ := store.Get(ctx, "k")
	if string(got) != "v2" {
		t.Fatalf("value after swap: got %q", got)
	}

	// Stale expected does not swap.
	swapped, err = store.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v3"), 0)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if swapped {
		t.Fatal("CompareAndSwap with stale expected: want not swapped")
	}

	// Absent key with non-nil expected does not swap.
	swapped, err = store.CompareAndSwap(ctx, "absent", []byte("v1"), []byte("v2"), 0)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if swapped {
		t.Fatal("CompareAndSwap on absent key: want not swapped")
	}
}

// TestList verifies prefix listing only returns matching keys.
func TestList(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a:role:x", "a:role:y", "a:perm:z", "b:role:x"} {
		if err := store.Put(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("Put %q: %v", k, err)
		}
	}

	keys, err := store.List(ctx, "a:role:")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List: want 2 keys, got %v", keys)
	}
	for _, k := range keys {
		if k != "a:role:x" && k != "a:role:y" {
			t.Fatalf("List returned key outside prefix: %q", k)
		}
	}
}

// TestIncr verifies counter semantics: the TTL is set on the creating
// increment only, and the counter expires as a unit.
func TestIncr(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Fatalf("Incr: want %d, got %d", want, got)
		}
	}

	// Later increments must not refresh the original expiry.
	mr.FastForward(30 * time.Second)
	if _, err := store.Incr(ctx, "counter", time.Minute); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	mr.FastForward(31 * time.Second)

	got, err := store.Incr(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("Incr after expiry: %v", err)
	}
	if got != 1 {
		t.Fatalf("Incr after expiry: want fresh counter at 1, got %d", got)
	}
}

// TestUnavailable verifies connectivity failures surface as
// ErrUnavailable rather than raw driver errors.
func TestUnavailable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, time.Second)

	mr.Close()

	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get against closed server: want ErrUnavailable, got %v", err)
	}
	if err := store.Put(context.Background(), "k", []byte("v"), 0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Put against closed server: want ErrUnavailable, got %v", err)
	}
}

// Package memstore provides an in-memory kv.Store implementation for tests.
//
// It honors TTLs against an injectable clock so expiry-dependent behavior
// (rate windows, counter reset) can be tested without sleeping, and can be
// forced to fail wholesale to exercise fail-open/fail-closed paths.
package memstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/overlaykit/access-core/internal/kv"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory kv.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	// Now supplies the clock used for TTL evaluation. Tests may replace it
	// to advance time deterministically. Defaults to time.Now.
	Now func() time.Time

	// Err, when non-nil, is returned by every operation. Used to simulate
	// store unavailability.
	Err error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		Now:     time.Now,
	}
}

// Get returns the value at key, or kv.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	e, ok := s.live(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Put unconditionally writes value at key.
func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.set(key, value, ttl)
	return nil
}

// PutIfAbsent writes value only when key does not exist.
func (s *Store) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.set(key, value, ttl)
	return true, nil
}

// CompareAndSwap writes value only when the current value equals expected.
func (s *Store) CompareAndSwap(_ context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	e, ok := s.live(key)
	if expected == nil {
		if ok {
			return false, nil
		}
		s.set(key, value, ttl)
		return true, nil
	}
	if !ok || string(e.value) != string(expected) {
		return false, nil
	}
	s.set(key, value, ttl)
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.entries, key)
	return nil
}

// List returns all live keys starting with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var keys []string
	for k := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.live(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Incr increments the counter at key, applying ttl only when the increment
// creates the key.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var count int64
	if e, ok := s.live(key); ok {
		count = parseInt(e.value)
	}
	count++
	if count == 1 {
		s.set(key, formatInt(count), ttl)
		return count, nil
	}
	// Preserve the existing expiry on subsequent increments.
	e := s.entries[key]
	e.value = formatInt(count)
	s.entries[key] = e
	return count, nil
}

// Len reports the number of live entries. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if _, ok := s.live(k); ok {
			n++
		}
	}
	return n
}

// live returns the entry at key if it exists and has not expired. Expired
// entries are reaped on access. Callers must hold s.mu.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) set(key string, value []byte, ttl time.Duration) {
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.entries[key] = e
}

func parseInt(b []byte) int64 {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatInt(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

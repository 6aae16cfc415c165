package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a Redis-compatible server.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore wraps an existing Redis client. Every operation is bounded
// by timeout; a non-positive timeout falls back to 5 seconds.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStore{client: client, timeout: timeout}
}

// Connect dials a Redis server at addr and verifies connectivity.
func Connect(ctx context.Context, addr string, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: ping %s: %w", addr, err)
	}
	return NewRedisStore(client, timeout), nil
}

// Get returns the value at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, wrapUnavailable(err)
	}
	return val, nil
}

// Put unconditionally writes value at key.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// PutIfAbsent writes value only when key does not exist.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return ok, nil
}

// CompareAndSwap writes value only when the current value equals expected.
// Implemented with WATCH + MULTI/EXEC; a concurrent write between the read
// and the transaction aborts the swap and returns false.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	if expected == nil {
		return s.PutIfAbsent(ctx, key, value, ttl)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil // key absent, comparison fails
			}
			return err
		}
		if string(current) != string(expected) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, wrapUnavailable(err)
	}
	return swapped, nil
}

// Delete removes key. Absent keys are a no-op.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// List returns all keys starting with prefix using incremental SCAN.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return keys, nil
}

// Incr increments the counter at key, applying ttl only on first hit.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	if count == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, wrapUnavailable(err)
		}
	}
	return count, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

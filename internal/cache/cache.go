// Package cache provides the key/value + bytes + atomic-counter abstraction
// (C1) underpinning the rate limiter, file staging, and plugin secrets
// scope. Two implementations satisfy Cache: a Redis-backed Shared backend
// for multi-replica deployments and a process-local Local backend for
// single-process deployments. Both must pass the same property tests.
package cache

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Cache implementations. Connection failures are kept
// distinguishable from other failures so the rate limiter can fail open
// specifically on them (spec.md §4.4).
var (
	ErrConnectionFailure = errors.New("cache: connection failure")
	ErrInvalidKey        = errors.New("cache: invalid key")
	ErrTypeMismatch      = errors.New("cache: type mismatch")
	ErrOperationFailed   = errors.New("cache: operation failed")
)

// Cache is the ordered-unaware string/bytes/counter store with optional
// absolute expiry described in spec.md §4.1.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with an optional ttl. ttl <= 0 deletes the key
	// immediately instead of setting it.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a new TTL on an existing key. ttl must be positive.
	// Returns false if the key did not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Incr/Decr operate on the string representation of an integer stored
	// at key, creating it at 0 first if absent. Returns ErrTypeMismatch if
	// the existing value is not a valid integer.
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	Decr(ctx context.Context, key string, delta int64) (int64, error)

	// Keys enumerates keys matching a glob-style pattern. Used by the
	// maintenance sweep (SPEC_FULL.md C1 supplement) to find stale
	// file_staging:* entries; not part of the core rate-limiter/staging
	// hot path.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

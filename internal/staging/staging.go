// Package staging stages binary file content between document-ingestion
// pipeline stages (C4), backed by cache.Cache's byte storage with a TTL
// long enough to cover worst-case retries.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragcore/internal/cache"
)

// ErrMissing indicates the staged bytes were not found at retrieve time —
// classified by stage handlers as StagingMissing, a permanent failure
// (spec.md §4.5, §7).
var ErrMissing = errors.New("staging: key not found")

// DefaultTTL covers the ingestion pipeline's worst-case retry window.
const DefaultTTL = time.Hour

// Service stages and retrieves file bytes for the ingestion pipeline.
type Service struct {
	c   cache.Cache
	ttl time.Duration
}

// New builds a Service over the given cache, using DefaultTTL.
func New(c cache.Cache) *Service {
	return &Service{c: c, ttl: DefaultTTL}
}

// NewWithTTL builds a Service with a custom TTL, for tests or deployments
// that need a shorter retry window.
func NewWithTTL(c cache.Cache, ttl time.Duration) *Service {
	return &Service{c: c, ttl: ttl}
}

func keyFor(documentID string) string {
	return fmt.Sprintf("file_staging:%s", documentID)
}

// Stage stores bytes for documentID and returns the staging key to embed
// in the next stage's job payload.
func (s *Service) Stage(ctx context.Context, documentID string, data []byte) (string, error) {
	key := keyFor(documentID)
	if err := s.c.SetBytes(ctx, key, data, s.ttl); err != nil {
		return "", err
	}
	return key, nil
}

// Peek loads the bytes at key without deleting them, for stage handlers
// that must keep the staged file available across retries until their
// work is durably persisted (spec.md §4.7.3 step 4). Returns ErrMissing if
// the key is absent.
func (s *Service) Peek(ctx context.Context, key string) ([]byte, error) {
	data, ok, err := s.c.GetBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMissing
	}
	return data, nil
}

// Retrieve loads the bytes at key. On success it attempts deletion,
// best-effort: a delete failure is non-fatal since the TTL guarantees
// eventual cleanup. Returns ErrMissing if the key is absent.
func (s *Service) Retrieve(ctx context.Context, key string) ([]byte, error) {
	data, ok, err := s.c.GetBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMissing
	}
	if _, err := s.c.Delete(ctx, key); err != nil {
		// Best-effort: TTL will reclaim it regardless.
		_ = err
	}
	return data, nil
}

// Delete performs explicit cleanup after a non-retryable failure, so the
// staged bytes don't linger for the full TTL.
func (s *Service) Delete(ctx context.Context, key string) error {
	_, err := s.c.Delete(ctx, key)
	return err
}

// stagingKeyPattern matches every key this package ever writes.
const stagingKeyPattern = "file_staging:*"

// Keys lists every currently-staged key, for the maintenance sweep
// (SPEC_FULL.md C7 supplement) to cross-check against document state.
func (s *Service) Keys(ctx context.Context) ([]string, error) {
	return s.c.Keys(ctx, stagingKeyPattern)
}

// DocumentIDForKey extracts the document ID a staging key was created for,
// the inverse of keyFor. Returns false if key isn't a staging key.
func DocumentIDForKey(key string) (string, bool) {
	const prefix = "file_staging:"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	return key[len(prefix):], true
}

// Package rawarchive archives the original uploaded bytes of a document
// to S3/MinIO, independent of internal/staging's short-TTL cache copy
// (SPEC_FULL.md DOMAIN STACK). Grounded on the teacher's
// internal/objectstore package: the same narrow Store seam, backed by
// either an S3Store or, for tests and local dev, a MemoryStore.
package rawarchive

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by Store implementations, mirroring the teacher's
// objectstore error set.
var (
	ErrNotFound     = errors.New("rawarchive: object not found")
	ErrAccessDenied = errors.New("rawarchive: access denied")
)

// Store is the narrow persistence seam rawarchive needs: put, fetch,
// delete, and existence-check by key. Deliberately narrower than the
// teacher's full ObjectStore (no List/Head/Copy) since archival never
// enumerates or renames objects.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (etag string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Service archives and retrieves original document bytes, keyed by
// knowledge base, document, and content hash so re-uploading identical
// bytes never overwrites a distinct archived object.
type Service struct {
	store Store
}

// New builds a Service over the given backend.
func New(store Store) *Service {
	return &Service{store: store}
}

func archiveKey(kbID, documentID, contentHash string) string {
	return fmt.Sprintf("raw/%s/%s/%s", kbID, documentID, contentHash)
}

// ArchiveOriginal stores the original upload bytes for a document ahead
// of OCR/text extraction, for audit and re-ingestion. It is independent
// of internal/staging's file_staging:* TTL-bound copy: archival is meant
// to outlive the pipeline run, not just cover retries.
func (s *Service) ArchiveOriginal(ctx context.Context, kbID, documentID, contentHash string, data []byte, contentType string) (string, error) {
	key := archiveKey(kbID, documentID, contentHash)
	if _, err := s.store.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// FetchOriginal retrieves the archived original bytes for re-ingestion.
func (s *Service) FetchOriginal(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, key)
}

// DeleteOriginal removes an archived object. Document deletes and KB
// cascade deletes do not call it; archived objects outlive their rows.
func (s *Service) DeleteOriginal(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// Exists reports whether an archived object is present at key.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	return s.store.Exists(ctx, key)
}

package rawarchive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveAndFetchOriginalRoundTrips(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	key, err := svc.ArchiveOriginal(ctx, "kb-1", "doc-1", "hash-abc", []byte("original pdf bytes"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "raw/kb-1/doc-1/hash-abc", key)

	data, err := svc.FetchOriginal(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "original pdf bytes", string(data))

	ok, err := svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistinctContentHashesDoNotCollide(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	k1, err := svc.ArchiveOriginal(ctx, "kb-1", "doc-1", "hash-a", []byte("v1"), "text/plain")
	require.NoError(t, err)
	k2, err := svc.ArchiveOriginal(ctx, "kb-1", "doc-1", "hash-b", []byte("v2"), "text/plain")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	d1, err := svc.FetchOriginal(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(d1))
}

func TestDeleteOriginalRemovesObject(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	key, err := svc.ArchiveOriginal(ctx, "kb-1", "doc-1", "hash-a", []byte("bytes"), "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOriginal(ctx, key))
	ok, err := svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.FetchOriginal(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchOriginalMissingReturnsErrNotFound(t *testing.T) {
	svc := New(NewMemoryStore())
	_, err := svc.FetchOriginal(context.Background(), "raw/kb-1/doc-1/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

package pluginhost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/cache"
	"ragcore/internal/errkind"
	"ragcore/internal/ingestion"
	"ragcore/internal/kbsearch"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ratelimit"
)

func newTestHost(t *testing.T, ctx Context, access AccessChecker) (*Host, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	c, err := cache.New("")
	require.NoError(t, err)
	limiter := ratelimit.New(c)
	search := kbsearch.New(store)
	h := New(ctx, Config{RateLimit: ratelimit.Config{Enabled: true, Capacity: 2, Window: 0}}, nil, search, store, limiter, access, nil)
	return h, store
}

func TestDeterministicKOIDIsStable(t *testing.T) {
	a := deterministicKOID("notion-sync", "user-1", "page-42")
	b := deterministicKOID("notion-sync", "user-1", "page-42")
	c := deterministicKOID("notion-sync", "user-1", "page-43")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestKBIngestTextRejectsUnboundKB(t *testing.T) {
	h, _ := newTestHost(t, Context{PluginName: "p1", UserID: "u1", KnowledgeBaseIDs: []string{"kb-1"}}, nil)
	_, err := h.KBIngestText(context.Background(), ingestion.IngestTextParams{
		KnowledgeBaseID: "kb-2",
		Title:           "title",
		Content:         "hello",
	})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.AccessDenied))
}

func TestKBDeleteKORequiresFeedContext(t *testing.T) {
	h, store := newTestHost(t, Context{PluginName: "p1", UserID: "u1", KnowledgeBaseIDs: []string{"kb-1"}}, nil)
	_, err := h.KBDeleteKO(context.Background(), store, "ext-1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.AccessDenied))
}

func TestKBDeleteKODeletesBoundDocument(t *testing.T) {
	h, store := newTestHost(t, Context{PluginName: "p1", UserID: "u1", ScheduleID: "sched-1", KnowledgeBaseIDs: []string{"kb-1"}}, nil)
	doc, err := store.CreateDocument(context.Background(), ragmodel.Document{
		ID:              "doc-1",
		KnowledgeBaseID: "kb-1",
		SourceType:      "plugin:p1",
		SourceID:        "ext-1",
	})
	require.NoError(t, err)

	deleted, err := h.KBDeleteKO(context.Background(), store, "ext-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetDocument(context.Background(), doc.ID)
	assert.Error(t, err)
}

func TestKBDeleteKOMissingDocumentReturnsFalse(t *testing.T) {
	h, store := newTestHost(t, Context{PluginName: "p1", UserID: "u1", ScheduleID: "sched-1", KnowledgeBaseIDs: []string{"kb-1"}}, nil)
	deleted, err := h.KBDeleteKO(context.Background(), store, "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

type denyAll struct{}

func (denyAll) CanAccessKnowledgeBase(context.Context, string, string) (bool, error) { return false, nil }

func TestKBSearchChunksDeniesWithoutAccess(t *testing.T) {
	h, _ := newTestHost(t, Context{PluginName: "p1", UserID: "u1", KnowledgeBaseIDs: []string{"kb-1"}}, denyAll{})
	_, err := h.KBSearchChunks(context.Background(), "content", "eq", "x", 1, "asc")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.AccessDenied))
}

func TestKBSearchChunksRequiresBoundKnowledgeBases(t *testing.T) {
	h, _ := newTestHost(t, Context{PluginName: "p1", UserID: "u1"}, nil)
	_, err := h.KBSearchChunks(context.Background(), "content", "eq", "x", 1, "asc")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidInput))
}

func TestSecretsUserScopeFallsBackToSystem(t *testing.T) {
	h, store := newTestHost(t, Context{PluginName: "p1", UserID: "u1"}, nil)
	require.NoError(t, store.SetSecret(context.Background(), "p1", secretScopeSystem, "", "api_key", "sys-value"))

	v, ok, err := h.SecretsGet(context.Background(), "api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sys-value", v)

	require.NoError(t, h.SecretsSet(context.Background(), secretScopeUser, "api_key", "user-value"))
	v, ok, err = h.SecretsGet(context.Background(), "api_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-value", v)
}

func TestSecretsScopedPerPlugin(t *testing.T) {
	h1, store := newTestHost(t, Context{PluginName: "p1", UserID: "u1"}, nil)
	h2 := New(Context{PluginName: "p2", UserID: "u1"}, Config{}, nil, kbsearch.New(store), store, ratelimit.New(mustLocalCache(t)), nil, nil)
	require.NoError(t, h1.SecretsSet(context.Background(), secretScopeUser, "k", "p1-value"))

	_, ok, err := h2.SecretsGet(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowEnforcesCapacity(t *testing.T) {
	h, _ := newTestHost(t, Context{PluginName: "p1", UserID: "u1"}, nil)
	r1, err := h.Allow(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)
	r2, err := h.Allow(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, r2.Allowed)
	r3, err := h.Allow(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, r3.Allowed)
}

func mustLocalCache(t *testing.T) *cache.Local {
	t.Helper()
	return cache.NewLocal(0)
}

package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/cache"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/staging"
	"ragcore/internal/textextract"
	"ragcore/internal/workload"
)

func newTestService() (*Service, *fakeStore, *fakeEmbedder, *fakeVectorStore, queue.Queue) {
	store := newFakeStore()
	store.kbs["kb-1"] = ragmodel.KnowledgeBase{ID: "kb-1", ChunkSize: 0, ChunkOverlap: 0}
	emb := &fakeEmbedder{}
	vecs := &fakeVectorStore{}
	q := queue.NewLocal()
	stg := staging.New(cache.NewLocal(0))
	svc := NewService(store, vecs, stg, textextract.PassThrough{}, emb, q, nil, Config{})
	return svc, store, emb, vecs, q
}

func TestIngestText_CreatesDocumentAndEnqueuesEmbed(t *testing.T) {
	svc, store, _, _, q := newTestService()
	ctx := context.Background()

	res, err := svc.IngestText(ctx, IngestTextParams{
		KnowledgeBaseID: "kb-1",
		Title:           "doc one",
		Content:         "hello world",
		SourceID:        "src-1",
	})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.NotEmpty(t, res.DocumentID)

	doc, err := store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, ragmodel.StatusPending, doc.ProcessingStatus)

	depth, err := q.Depth(ctx, workload.IngestionEmbed.QueueName())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestIngestText_SkipsOnHashMatchWhenAlreadyProcessed(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res1, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "same content", SourceID: "src-2"})
	require.NoError(t, err)
	doc := store.docs[res1.DocumentID]
	doc.ProcessingStatus = ragmodel.StatusProcessed
	store.docs[res1.DocumentID] = doc

	res2, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "same content", SourceID: "src-2"})
	require.NoError(t, err)
	assert.True(t, res2.Skipped)
	assert.Equal(t, "hash_match_processed", res2.SkipReason)
	assert.Equal(t, res1.DocumentID, res2.DocumentID)
}

func TestIngestText_ReingestsOnContentChange(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res1, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "version one", SourceID: "src-3"})
	require.NoError(t, err)
	doc := store.docs[res1.DocumentID]
	doc.ProcessingStatus = ragmodel.StatusProcessed
	store.docs[res1.DocumentID] = doc

	res2, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "version two", SourceID: "src-3"})
	require.NoError(t, err)
	assert.False(t, res2.Skipped)
	assert.Equal(t, res1.DocumentID, res2.DocumentID)
	assert.Equal(t, "version two", store.docs[res2.DocumentID].Content)
}

func TestIngestText_ForceReingestBypassesHashSkip(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res1, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "same", SourceID: "src-4"})
	require.NoError(t, err)
	doc := store.docs[res1.DocumentID]
	doc.ProcessingStatus = ragmodel.StatusProcessed
	store.docs[res1.DocumentID] = doc

	res2, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "same", SourceID: "src-4", ForceReingest: true})
	require.NoError(t, err)
	assert.False(t, res2.Skipped)
}

func TestIngestText_HashMatchErrorStatusDoesNotAutoRetry(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res1, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "broken doc", SourceID: "src-5"})
	require.NoError(t, err)
	doc := store.docs[res1.DocumentID]
	doc.ProcessingStatus = ragmodel.StatusError
	store.docs[res1.DocumentID] = doc

	res2, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "broken doc", SourceID: "src-5"})
	require.NoError(t, err)
	assert.True(t, res2.Skipped)
	assert.Equal(t, "hash_match_error_no_autoretry", res2.SkipReason)
}

func TestIngestThread_UsesThreadIDAsSourceID(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.IngestThread(ctx, IngestThreadParams{KnowledgeBaseID: "kb-1", ThreadID: "thread-1", Content: "thread body"})
	require.NoError(t, err)
	doc := store.docs[res.DocumentID]
	assert.Equal(t, "thread-1", doc.SourceID)
	assert.Equal(t, "thread", doc.FileType)
}

func TestIngestDocument_StagesBytesAndEnqueuesOCR(t *testing.T) {
	svc, store, _, _, q := newTestService()
	ctx := context.Background()

	res, err := svc.IngestDocument(ctx, IngestDocumentParams{
		KnowledgeBaseID: "kb-1",
		Bytes:           []byte("raw file bytes"),
		Filename:        "f.txt",
		SourceID:        "src-doc-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	doc := store.docs[res.DocumentID]
	assert.Equal(t, ragmodel.StatusPending, doc.ProcessingStatus)
	assert.Equal(t, int64(len("raw file bytes")), doc.FileSize)

	depth, err := q.Depth(ctx, workload.IngestionOCR.QueueName())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestIngestEmail_EmbedsSynchronouslyAndSkipsProfilingWhenDisabled(t *testing.T) {
	svc, store, emb, vecs, _ := newTestService()
	ctx := context.Background()

	res, err := svc.IngestEmail(ctx, IngestEmailParams{
		KnowledgeBaseID: "kb-1",
		Subject:         "hello",
		Sender:          "a@example.com",
		Recipients:      []string{"b@example.com"},
		MessageID:       "msg-1",
		BodyText:        "email body content",
	})
	require.NoError(t, err)
	require.False(t, res.Skipped)

	doc := store.docs[res.DocumentID]
	assert.Equal(t, ragmodel.StatusProcessed, doc.ProcessingStatus)
	assert.NotNil(t, doc.ProcessedAt)
	assert.Greater(t, emb.calls, 0)
	assert.NotEmpty(t, vecs.upserts)
}

func TestIngestText_IncrementsDocumentCountOnceAcrossReingestSequence(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res1, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "version one", SourceID: "src-counter"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.kbs["kb-1"].DocumentCount)

	doc := store.docs[res1.DocumentID]
	doc.ProcessingStatus = ragmodel.StatusProcessed
	store.docs[res1.DocumentID] = doc

	_, err = svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "version two", SourceID: "src-counter"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.kbs["kb-1"].DocumentCount, "re-ingesting an existing document must not increment document_count again")
}

func TestHandleEmbed_UpdatesTotalChunksByNetChange(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "a body long enough to chunk", SourceID: "src-chunks"})
	require.NoError(t, err)

	job := queue.NewJob(workload.IngestionEmbed.QueueName(), map[string]any{"document_id": res.DocumentID})
	require.NoError(t, svc.HandleEmbed(ctx, job))

	firstCount := store.docs[res.DocumentID].ChunkCount
	require.Greater(t, firstCount, 0)
	assert.Equal(t, firstCount, store.kbs["kb-1"].TotalChunks)

	// Re-embedding replaces the chunk set; total_chunks must track the net
	// change, not double-count the prior chunks.
	require.NoError(t, svc.HandleEmbed(ctx, job))
	assert.Equal(t, store.docs[res.DocumentID].ChunkCount, store.kbs["kb-1"].TotalChunks)
}

func TestDeleteDocument_DecrementsCountersForManualUpload(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", Content: "a body long enough to chunk", SourceID: "src-delete"})
	require.NoError(t, err)
	job := queue.NewJob(workload.IngestionEmbed.QueueName(), map[string]any{"document_id": res.DocumentID})
	require.NoError(t, svc.HandleEmbed(ctx, job))

	require.Equal(t, 1, store.kbs["kb-1"].DocumentCount)
	require.Greater(t, store.kbs["kb-1"].TotalChunks, 0)

	err = svc.DeleteDocument(ctx, DeleteDocumentParams{KnowledgeBaseID: "kb-1", DocumentID: res.DocumentID})
	require.NoError(t, err)

	assert.Equal(t, 0, store.kbs["kb-1"].DocumentCount)
	assert.Equal(t, 0, store.kbs["kb-1"].TotalChunks)
	_, getErr := store.GetDocument(ctx, res.DocumentID)
	assert.Error(t, getErr)
}

func TestDeleteDocument_RejectsFeedIngestedDocument(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.IngestText(ctx, IngestTextParams{KnowledgeBaseID: "kb-1", PluginName: "gmail", Content: "feed body", SourceID: "ext-1"})
	require.NoError(t, err)
	_ = store

	err = svc.DeleteDocument(ctx, DeleteDocumentParams{KnowledgeBaseID: "kb-1", DocumentID: res.DocumentID})
	assert.Error(t, err)
}

func TestIngestEmail_EnqueuesProfilingWhenEnabled(t *testing.T) {
	store := newFakeStore()
	store.kbs["kb-1"] = ragmodel.KnowledgeBase{ID: "kb-1"}
	emb := &fakeEmbedder{}
	vecs := &fakeVectorStore{}
	q := queue.NewLocal()
	stg := staging.New(cache.NewLocal(0))
	svc := NewService(store, vecs, stg, textextract.PassThrough{}, emb, q, nil, Config{ProfilingEnabled: true})
	ctx := context.Background()

	res, err := svc.IngestEmail(ctx, IngestEmailParams{
		KnowledgeBaseID: "kb-1",
		Subject:         "hello",
		Sender:          "a@example.com",
		MessageID:       "msg-2",
		BodyText:        "content",
	})
	require.NoError(t, err)

	doc := store.docs[res.DocumentID]
	assert.Equal(t, ragmodel.StatusProfiling, doc.ProcessingStatus)

	depth, err := q.Depth(ctx, workload.Profiling.QueueName())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

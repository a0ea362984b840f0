package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/workload"
)

func TestHandleOCR_ExtractsAndEnqueuesEmbedThenCleansUpStaging(t *testing.T) {
	svc, store, _, _, q := newTestService()
	ctx := context.Background()

	_, _ = store.CreateDocument(ctx, ragmodel.Document{ID: "doc-1", KnowledgeBaseID: "kb-1", ProcessingStatus: ragmodel.StatusPending})
	key, err := svc.Staging.Stage(ctx, "doc-1", []byte("raw extracted text"))
	require.NoError(t, err)

	job := queue.NewJob(workload.IngestionOCR.QueueName(), map[string]any{
		"document_id": "doc-1",
		"staging_key": key,
		"filename":    "f.txt",
		"ocr_mode":    "text_only",
	})
	require.NoError(t, svc.HandleOCR(ctx, job))

	doc := store.docs["doc-1"]
	assert.Equal(t, ragmodel.StatusEmbedding, doc.ProcessingStatus)
	assert.Equal(t, "raw extracted text", doc.Content)

	depth, err := q.Depth(ctx, workload.IngestionEmbed.QueueName())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	_, peekErr := svc.Staging.Peek(ctx, key)
	assert.Error(t, peekErr, "staged bytes must be deleted after successful enqueue")
}

func TestHandleOCR_MissingStagedBytesMarksError(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	_, _ = store.CreateDocument(ctx, ragmodel.Document{ID: "doc-2", KnowledgeBaseID: "kb-1"})
	job := queue.NewJob(workload.IngestionOCR.QueueName(), map[string]any{
		"document_id": "doc-2",
		"staging_key": "file_staging:never-staged",
		"ocr_mode":    "text_only",
	})
	err := svc.HandleOCR(ctx, job)
	require.Error(t, err)
	assert.Equal(t, ragmodel.StatusError, store.docs["doc-2"].ProcessingStatus)
}

func TestHandleOCR_MarksErrorOnFinalAttemptExtractionFailure(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	svc.Extractor = fakeFailingExtractor{}
	ctx := context.Background()

	_, _ = store.CreateDocument(ctx, ragmodel.Document{ID: "doc-5", KnowledgeBaseID: "kb-1", ProcessingStatus: ragmodel.StatusPending})
	key, err := svc.Staging.Stage(ctx, "doc-5", []byte("raw bytes"))
	require.NoError(t, err)

	job := queue.NewJob(workload.IngestionOCR.QueueName(), map[string]any{
		"document_id": "doc-5",
		"staging_key": key,
		"ocr_mode":    "text_only",
	})
	job.Attempts = job.MaxAttempts
	err = svc.HandleOCR(ctx, job)
	require.Error(t, err)
	assert.Equal(t, ragmodel.StatusError, store.docs["doc-5"].ProcessingStatus)
}

func TestHandleOCR_LeavesStatusExtractingWhenRetriesRemain(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	svc.Extractor = fakeFailingExtractor{}
	ctx := context.Background()

	_, _ = store.CreateDocument(ctx, ragmodel.Document{ID: "doc-6", KnowledgeBaseID: "kb-1", ProcessingStatus: ragmodel.StatusPending})
	key, err := svc.Staging.Stage(ctx, "doc-6", []byte("raw bytes"))
	require.NoError(t, err)

	job := queue.NewJob(workload.IngestionOCR.QueueName(), map[string]any{
		"document_id": "doc-6",
		"staging_key": key,
		"ocr_mode":    "text_only",
	})
	err = svc.HandleOCR(ctx, job)
	require.Error(t, err)
	assert.Equal(t, ragmodel.StatusExtracting, store.docs["doc-6"].ProcessingStatus, "a failed attempt with retries remaining must requeue, not ERROR")
}

func TestHandleOCR_MissingDocumentIsNonRetryable(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	job := queue.NewJob(workload.IngestionOCR.QueueName(), map[string]any{"document_id": "nope"})
	err := svc.HandleOCR(context.Background(), job)
	assert.NoError(t, err, "a document deleted mid-flight must not be retried forever")
}

func TestHandleOCR_MissingKnowledgeBaseCleansStagingAndSkips(t *testing.T) {
	svc, store, _, _, _ := newTestService()
	ctx := context.Background()

	_, _ = store.CreateDocument(ctx, ragmodel.Document{ID: "doc-3", KnowledgeBaseID: "kb-missing"})
	key, err := svc.Staging.Stage(ctx, "doc-3", []byte("bytes"))
	require.NoError(t, err)

	job := queue.NewJob(workload.IngestionOCR.QueueName(), map[string]any{
		"document_id": "doc-3",
		"staging_key": key,
	})
	require.NoError(t, svc.HandleOCR(ctx, job))

	_, peekErr := svc.Staging.Peek(ctx, key)
	assert.Error(t, peekErr)
}

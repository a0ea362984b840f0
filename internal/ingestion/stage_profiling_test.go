package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/cache"
	"ragcore/internal/profiling"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/staging"
	"ragcore/internal/textextract"
	"ragcore/internal/workload"
)

type stubLLM struct {
	batch string
	doc   string
}

func (s *stubLLM) Complete(ctx context.Context, prompt, model string, timeout time.Duration) (string, error) {
	if len(prompt) > 0 && containsSubstr(prompt, "JSON array") {
		return s.batch, nil
	}
	return s.doc, nil
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestHandleProfiling_MarksProcessedOnSuccess(t *testing.T) {
	store := newFakeStore()
	store.kbs["kb-1"] = ragmodel.KnowledgeBase{ID: "kb-1"}
	_, _ = store.CreateDocument(context.Background(), ragmodel.Document{ID: "doc-1", KnowledgeBaseID: "kb-1", Content: "x"})
	store.chunks["doc-1"] = []ragmodel.DocumentChunk{{ID: "doc-1-c0", ChunkIndex: 0, Content: "chunk body"}}

	llm := &stubLLM{
		batch: `[{"summary":"s","keywords":[],"topics":[]}]`,
		doc:   `{"synopsis":"syn","document_type":"technical","capability_manifest":{},"synthesized_queries":[]}`,
	}
	orch := profiling.NewOrchestrator(store, llm, &fakeEmbedder{}, profiling.Config{})

	q := queue.NewLocal()
	stg := staging.New(cache.NewLocal(0))
	svc := NewService(store, &fakeVectorStore{}, stg, textextract.PassThrough{}, &fakeEmbedder{}, q, orch, Config{})

	job := queue.NewJob(workload.Profiling.QueueName(), map[string]any{"document_id": "doc-1"})
	require.NoError(t, svc.HandleProfiling(context.Background(), job))

	assert.Equal(t, ragmodel.StatusProcessed, store.docs["doc-1"].ProcessingStatus)
	assert.NotNil(t, store.docs["doc-1"].ProcessedAt)
}

func TestHandleProfiling_MarksErrorOnFinalAttemptFailure(t *testing.T) {
	store := newFakeStore()
	store.kbs["kb-1"] = ragmodel.KnowledgeBase{ID: "kb-1"}
	_, _ = store.CreateDocument(context.Background(), ragmodel.Document{ID: "doc-2", KnowledgeBaseID: "kb-1", Content: "x"})
	// no chunks -> ProfileDocument fails immediately

	orch := profiling.NewOrchestrator(store, &stubLLM{}, &fakeEmbedder{}, profiling.Config{})
	q := queue.NewLocal()
	stg := staging.New(cache.NewLocal(0))
	svc := NewService(store, &fakeVectorStore{}, stg, textextract.PassThrough{}, &fakeEmbedder{}, q, orch, Config{})

	job := queue.NewJob(workload.Profiling.QueueName(), map[string]any{"document_id": "doc-2"})
	job.Attempts = job.MaxAttempts

	err := svc.HandleProfiling(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, ragmodel.StatusError, store.docs["doc-2"].ProcessingStatus)
}

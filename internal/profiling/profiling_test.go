package profiling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
)

// fakeStore implements ragstore.Store's methods actually exercised by the
// orchestrator; the rest satisfy the interface with no-ops.
type fakeStore struct {
	doc    ragmodel.Document
	chunks []ragmodel.DocumentChunk

	updatedDocs   []ragmodel.Document
	chunkProfiles map[string]chunkProfile
	queries       []ragmodel.DocumentQuery
}

func newFakeStore(doc ragmodel.Document, chunks []ragmodel.DocumentChunk) *fakeStore {
	return &fakeStore{doc: doc, chunks: chunks, chunkProfiles: map[string]chunkProfile{}}
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (ragmodel.Document, error) {
	return f.doc, nil
}
func (f *fakeStore) FindBySource(ctx context.Context, kbID, sourceType, sourceID string) (ragmodel.Document, bool, error) {
	return ragmodel.Document{}, false, nil
}
func (f *fakeStore) CreateDocument(ctx context.Context, d ragmodel.Document) (ragmodel.Document, error) {
	return d, nil
}
func (f *fakeStore) UpdateDocument(ctx context.Context, d ragmodel.Document) error {
	f.doc = d
	f.updatedDocs = append(f.updatedDocs, d)
	return nil
}
func (f *fakeStore) DeleteDocument(ctx context.Context, id string) error { return nil }
func (f *fakeStore) ReplaceChunks(ctx context.Context, documentID string, chunks []ragmodel.DocumentChunk) error {
	f.chunks = chunks
	return nil
}
func (f *fakeStore) GetChunks(ctx context.Context, documentID string) ([]ragmodel.DocumentChunk, error) {
	return f.chunks, nil
}
func (f *fakeStore) UpdateChunkProfile(ctx context.Context, chunkID, summary string, keywords, topics []string) error {
	f.chunkProfiles[chunkID] = chunkProfile{Summary: summary, Keywords: keywords, Topics: topics}
	return nil
}
func (f *fakeStore) ReplaceQueries(ctx context.Context, documentID string, queries []ragmodel.DocumentQuery) error {
	f.queries = queries
	return nil
}

func (f *fakeStore) GetKnowledgeBase(ctx context.Context, id string) (ragmodel.KnowledgeBase, error) {
	return ragmodel.KnowledgeBase{}, nil
}
func (f *fakeStore) CreateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) (ragmodel.KnowledgeBase, error) {
	return kb, nil
}
func (f *fakeStore) UpdateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) error { return nil }
func (f *fakeStore) DeleteKnowledgeBase(ctx context.Context, id string) error                 { return nil }

func (f *fakeStore) ClaimDuePluginFeeds(ctx context.Context, limit int) ([]ragmodel.PluginFeed, error) {
	return nil, nil
}
func (f *fakeStore) HasPendingOrRunning(ctx context.Context, scheduleID string) (bool, error) {
	return false, nil
}
func (f *fakeStore) CreatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) (ragmodel.PluginExecution, error) {
	return e, nil
}
func (f *fakeStore) GetPluginExecution(ctx context.Context, id string) (ragmodel.PluginExecution, error) {
	return ragmodel.PluginExecution{}, nil
}
func (f *fakeStore) UpdatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) error {
	return nil
}
func (f *fakeStore) ReclaimStaleRunning(ctx context.Context, staleAfterSeconds int) (int, error) {
	return 0, nil
}
func (f *fakeStore) UpdatePluginFeedSchedule(ctx context.Context, feedID string, nextRunAt, lastRunAt *time.Time) error {
	return nil
}

func (f *fakeStore) ClaimDueExperiences(ctx context.Context, limit int) ([]ragmodel.Experience, error) {
	return nil, nil
}
func (f *fakeStore) GetExperience(ctx context.Context, id string) (ragmodel.Experience, error) {
	return ragmodel.Experience{}, nil
}
func (f *fakeStore) UpdateExperience(ctx context.Context, e ragmodel.Experience) error { return nil }
func (f *fakeStore) CreateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) (ragmodel.ExperienceRun, error) {
	return r, nil
}
func (f *fakeStore) UpdateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) error {
	return nil
}

func (f *fakeStore) SearchChunks(ctx context.Context, q ragstore.SearchQuery) (ragstore.ChunkSearchResult, error) {
	return ragstore.ChunkSearchResult{}, nil
}
func (f *fakeStore) SearchDocuments(ctx context.Context, q ragstore.SearchQuery) (ragstore.DocumentSearchResult, error) {
	return ragstore.DocumentSearchResult{}, nil
}
func (f *fakeStore) GetSecret(ctx context.Context, pluginName, scope, userID, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) SetSecret(ctx context.Context, pluginName, scope, userID, key, value string) error {
	return nil
}

func (f *fakeStore) Close() {}

type fakeLLM struct {
	batchResponse    string
	singleResponse   string
	docResponse      string
	batchErr         error
	callCount        int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt, model string, timeout time.Duration) (string, error) {
	f.callCount++
	switch {
	case containsAny(prompt, "JSON array"):
		if f.batchErr != nil {
			return "", f.batchErr
		}
		return f.batchResponse, nil
	case containsAny(prompt, "surrounding context"):
		return f.singleResponse, nil
	default:
		return f.docResponse, nil
	}
}

func containsAny(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (fakeEmbedder) Model() string  { return "fake-embed" }
func (fakeEmbedder) Dimension() int { return 2 }

func chunksFor(n int) []ragmodel.DocumentChunk {
	out := make([]ragmodel.DocumentChunk, n)
	for i := 0; i < n; i++ {
		out[i] = ragmodel.DocumentChunk{ID: fmt.Sprintf("chunk-%d", i), ChunkIndex: i, Content: fmt.Sprintf("content %d", i)}
	}
	return out
}

func TestProfileDocument_HappyPath(t *testing.T) {
	doc := ragmodel.Document{ID: "doc-1", Title: "t", Content: "short doc"}
	store := newFakeStore(doc, chunksFor(2))
	llm := &fakeLLM{
		batchResponse: `[{"summary":"s0","keywords":["k0"],"topics":["t0"]},{"summary":"s1","keywords":["k1"],"topics":["t1"]}]`,
		docResponse:   `{"synopsis":"doc synopsis","document_type":"technical","capability_manifest":{},"synthesized_queries":["q1"]}`,
	}
	o := NewOrchestrator(store, llm, fakeEmbedder{}, Config{})

	err := o.ProfileDocument(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, ragmodel.ProfilingComplete, store.doc.ProfilingStatus)
	assert.Equal(t, 100.0, store.doc.ProfilingCoveragePct)
	assert.Equal(t, ragmodel.DocumentType("technical"), store.doc.DocumentType)
	assert.Equal(t, "doc synopsis", store.doc.Synopsis)
	assert.Len(t, store.chunkProfiles, 2)
	assert.Equal(t, "s0", store.chunkProfiles["chunk-0"].Summary)
	require.Len(t, store.queries, 1)
	assert.Equal(t, "q1", store.queries[0].QueryText)
}

func TestProfileDocument_BatchFailureRetriesIndividually(t *testing.T) {
	doc := ragmodel.Document{ID: "doc-2", Title: "t", Content: "doc"}
	store := newFakeStore(doc, chunksFor(1))
	llm := &fakeLLM{
		batchErr:       fmt.Errorf("rate limited"),
		singleResponse: `{"summary":"recovered","keywords":[],"topics":[]}`,
		docResponse:    `{"synopsis":"s","document_type":"narrative","capability_manifest":{},"synthesized_queries":[]}`,
	}
	o := NewOrchestrator(store, llm, fakeEmbedder{}, Config{})

	err := o.ProfileDocument(context.Background(), "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "recovered", store.chunkProfiles["chunk-0"].Summary)
	assert.Equal(t, 100.0, store.doc.ProfilingCoveragePct)
}

func TestProfileDocument_PartialCoverageWhenRetryAlsoFails(t *testing.T) {
	doc := ragmodel.Document{ID: "doc-3", Content: "doc"}
	store := newFakeStore(doc, chunksFor(1))
	llm := &fakeLLM{
		batchErr:    fmt.Errorf("down"),
		docResponse: `{"synopsis":"s","document_type":"narrative","capability_manifest":{},"synthesized_queries":[]}`,
	}
	o := NewOrchestrator(store, llm, fakeEmbedder{}, Config{})

	err := o.ProfileDocument(context.Background(), "doc-3")
	require.NoError(t, err)
	assert.Equal(t, 0.0, store.doc.ProfilingCoveragePct)
	assert.Empty(t, store.chunkProfiles)
}

func TestProfileDocument_NoChunksFails(t *testing.T) {
	doc := ragmodel.Document{ID: "doc-4"}
	store := newFakeStore(doc, nil)
	o := NewOrchestrator(store, &fakeLLM{}, fakeEmbedder{}, Config{})

	err := o.ProfileDocument(context.Background(), "doc-4")
	require.Error(t, err)
	assert.Equal(t, ragmodel.ProfilingFailed, store.doc.ProfilingStatus)
}

func TestProfileDocument_InvalidDocumentTypeFails(t *testing.T) {
	doc := ragmodel.Document{ID: "doc-5", Content: "doc"}
	store := newFakeStore(doc, chunksFor(1))
	llm := &fakeLLM{
		batchResponse: `[{"summary":"s0","keywords":[],"topics":[]}]`,
		docResponse:   `{"synopsis":"s","document_type":"bogus","capability_manifest":{},"synthesized_queries":[]}`,
	}
	o := NewOrchestrator(store, llm, fakeEmbedder{}, Config{})

	err := o.ProfileDocument(context.Background(), "doc-5")
	require.Error(t, err)
	assert.Equal(t, ragmodel.ProfilingFailed, store.doc.ProfilingStatus)
}

func TestProfileDocument_LargeDocumentUsesSummaryReduce(t *testing.T) {
	big := make([]byte, 20000)
	for i := range big {
		big[i] = 'a'
	}
	doc := ragmodel.Document{ID: "doc-6", Content: string(big)}
	store := newFakeStore(doc, chunksFor(1))
	llm := &fakeLLM{
		batchResponse: `[{"summary":"s0","keywords":[],"topics":[]}]`,
		docResponse:   `{"synopsis":"reduced","document_type":"technical","capability_manifest":{},"synthesized_queries":[]}`,
	}
	o := NewOrchestrator(store, llm, fakeEmbedder{}, Config{FullDocMaxTokens: 100})

	err := o.ProfileDocument(context.Background(), "doc-6")
	require.NoError(t, err)
	assert.Equal(t, "reduced", store.doc.Synopsis)
}

func TestParseJSONBlob_StripsCodeFenceAndProse(t *testing.T) {
	var out chunkProfile
	err := parseJSONBlob("Sure, here you go:\n```json\n{\"summary\":\"x\",\"keywords\":[],\"topics\":[]}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "x", out.Summary)
}

func TestEstimateTokens_CharsOverFour(t *testing.T) {
	assert.Equal(t, 2, estimateTokens("12345678"))
}

func TestTruncateToTokens_Truncates(t *testing.T) {
	s := truncateToTokens("0123456789", 2)
	assert.Equal(t, "01234567", s)
}

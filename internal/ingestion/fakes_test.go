package ingestion

import (
	"context"
	"sync"
	"time"

	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/ragstore/vector"
	"ragcore/internal/textextract"
)

// fakeStore is a minimal in-memory ragstore.Store sufficient to drive the
// C7/C12 entry points and stage handlers under test.
type fakeStore struct {
	mu sync.Mutex

	docs       map[string]ragmodel.Document
	bySource   map[string]string // sourceType|sourceID|kbID -> docID
	kbs        map[string]ragmodel.KnowledgeBase
	chunks     map[string][]ragmodel.DocumentChunk
	queries    map[string][]ragmodel.DocumentQuery
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     map[string]ragmodel.Document{},
		bySource: map[string]string{},
		kbs:      map[string]ragmodel.KnowledgeBase{},
		chunks:   map[string][]ragmodel.DocumentChunk{},
		queries:  map[string][]ragmodel.DocumentQuery{},
	}
}

func sourceKey(kbID, sourceType, sourceID string) string {
	return kbID + "|" + sourceType + "|" + sourceID
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (ragmodel.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return ragmodel.Document{}, errNotFound
	}
	return d, nil
}

func (f *fakeStore) FindBySource(ctx context.Context, kbID, sourceType, sourceID string) (ragmodel.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.bySource[sourceKey(kbID, sourceType, sourceID)]
	if !ok {
		return ragmodel.Document{}, false, nil
	}
	return f.docs[id], true, nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, d ragmodel.Document) (ragmodel.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[d.ID] = d
	f.bySource[sourceKey(d.KnowledgeBaseID, d.SourceType, d.SourceID)] = d.ID
	return d, nil
}

func (f *fakeStore) UpdateDocument(ctx context.Context, d ragmodel.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[d.ID] = d
	f.bySource[sourceKey(d.KnowledgeBaseID, d.SourceType, d.SourceID)] = d.ID
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) ReplaceChunks(ctx context.Context, documentID string, chunks []ragmodel.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[documentID] = chunks
	return nil
}

func (f *fakeStore) GetChunks(ctx context.Context, documentID string) ([]ragmodel.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[documentID], nil
}

func (f *fakeStore) UpdateChunkProfile(ctx context.Context, chunkID, summary string, keywords, topics []string) error {
	return nil
}

func (f *fakeStore) ReplaceQueries(ctx context.Context, documentID string, queries []ragmodel.DocumentQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[documentID] = queries
	return nil
}

func (f *fakeStore) GetKnowledgeBase(ctx context.Context, id string) (ragmodel.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return ragmodel.KnowledgeBase{}, errNotFound
	}
	return kb, nil
}
func (f *fakeStore) CreateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) (ragmodel.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kbs[kb.ID] = kb
	return kb, nil
}
func (f *fakeStore) UpdateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kbs[kb.ID] = kb
	return nil
}
func (f *fakeStore) DeleteKnowledgeBase(ctx context.Context, id string) error { return nil }

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

var errNotFound = fakeNotFoundError{}

type fakeNotFoundError struct{}

func (fakeNotFoundError) Error() string { return "ingestion test: not found" }

// fakeEmbedder deterministically embeds each text to a one-element vector
// keyed on text length, so tests can assert embeddings were produced without
// caring about exact values.
type fakeEmbedder struct {
	failOnce bool
	calls    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failOnce {
		f.failOnce = false
		return nil, errEmbedFailed
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}
func (f *fakeEmbedder) Model() string  { return "fake-embedder" }
func (f *fakeEmbedder) Dimension() int { return 1 }

var errEmbedFailed = fakeEmbedError{}

type fakeEmbedError struct{}

func (fakeEmbedError) Error() string { return "ingestion test: embed failed" }

// fakeFailingExtractor always fails extraction, for exercising stage_ocr's
// retry/exhausted-attempts gating.
type fakeFailingExtractor struct{}

func (fakeFailingExtractor) Extract(ctx context.Context, filename string, data []byte, useOCR bool, mode textextract.Mode) (textextract.Result, error) {
	return textextract.Result{}, errExtractionFailed
}

var errExtractionFailed = fakeExtractionError{}

type fakeExtractionError struct{}

func (fakeExtractionError) Error() string { return "ingestion test: extraction failed" }

// fakeVectorStore records every Upsert call for assertion.
type fakeVectorStore struct {
	mu      sync.Mutex
	upserts []vectorUpsertCall
}

type vectorUpsertCall struct {
	ChunkID, DocumentID, KnowledgeBaseID string
}

func (v *fakeVectorStore) Upsert(ctx context.Context, chunkID, documentID, knowledgeBaseID string, embedding []float32, metadata map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.upserts = append(v.upserts, vectorUpsertCall{chunkID, documentID, knowledgeBaseID})
	return nil
}
func (v *fakeVectorStore) Delete(ctx context.Context, chunkID string) error             { return nil }
func (v *fakeVectorStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }
func (v *fakeVectorStore) Search(ctx context.Context, knowledgeBaseID string, embedding []float32, k int) ([]vector.Match, error) {
	return nil, nil
}

var _ vector.Store = (*fakeVectorStore)(nil)

package pluginhost

import (
	"context"
	"sync"
	"time"

	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
)

// fakeStore is a minimal in-memory ragstore.Store, grounded on
// internal/ingestion's fakeStore of the same shape.
type fakeStore struct {
	mu sync.Mutex

	docs     map[string]ragmodel.Document
	bySource map[string]string
	kbs      map[string]ragmodel.KnowledgeBase
	chunks   map[string][]ragmodel.DocumentChunk
	execs    map[string]ragmodel.PluginExecution
	secrets  map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     map[string]ragmodel.Document{},
		bySource: map[string]string{},
		kbs:      map[string]ragmodel.KnowledgeBase{},
		chunks:   map[string][]ragmodel.DocumentChunk{},
		execs:    map[string]ragmodel.PluginExecution{},
		secrets:  map[string]string{},
	}
}

func sourceKey(kbID, sourceType, sourceID string) string {
	return kbID + "|" + sourceType + "|" + sourceID
}

func secretKey(pluginName, scope, userID, key string) string {
	return pluginName + "|" + scope + "|" + userID + "|" + key
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
	d, ok := f.docs[id]
	if ok {
		delete(f.bySource, sourceKey(d.KnowledgeBaseID, d.SourceType, d.SourceID))
	}
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
func (f *fakeStore) UpdateKnowledgeBase(ctx context.Context, kb ragmodel.KnowledgeBase) error { return nil }
func (f *fakeStore) DeleteKnowledgeBase(ctx context.Context, id string) error                 { return nil }

func (f *fakeStore) ClaimDuePluginFeeds(ctx context.Context, limit int) ([]ragmodel.PluginFeed, error) {
	return nil, nil
}
func (f *fakeStore) HasPendingOrRunning(ctx context.Context, scheduleID string) (bool, error) {
	return false, nil
}
func (f *fakeStore) CreatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) (ragmodel.PluginExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[e.ID] = e
	return e, nil
}
func (f *fakeStore) GetPluginExecution(ctx context.Context, id string) (ragmodel.PluginExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return ragmodel.PluginExecution{}, errNotFound
	}
	return e, nil
}
func (f *fakeStore) UpdatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[e.ID] = e
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
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.secrets[secretKey(pluginName, scope, userID, key)]
	return v, ok, nil
}
func (f *fakeStore) SetSecret(ctx context.Context, pluginName, scope, userID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[secretKey(pluginName, scope, userID, key)] = value
	return nil
}

func (f *fakeStore) Close() {}

var errNotFound = fakeNotFoundError{}

type fakeNotFoundError struct{}

func (fakeNotFoundError) Error() string { return "pluginhost test: not found" }

var _ ragstore.Store = (*fakeStore)(nil)

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/ragstore"
	"ragcore/internal/workload"
)

type fakePluginStore struct {
	mu           sync.Mutex
	feeds        []ragmodel.PluginFeed
	pending      map[string]bool
	executions   []ragmodel.PluginExecution
	schedules    map[string][2]*time.Time
	reclaimed    int
	conflictOnce bool
}

func newFakePluginStore(feeds ...ragmodel.PluginFeed) *fakePluginStore {
	return &fakePluginStore{
		feeds:     feeds,
		pending:   map[string]bool{},
		schedules: map[string][2]*time.Time{},
	}
}

func (f *fakePluginStore) ClaimDuePluginFeeds(ctx context.Context, limit int) ([]ragmodel.PluginFeed, error) {
	return f.feeds, nil
}

func (f *fakePluginStore) HasPendingOrRunning(ctx context.Context, scheduleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[scheduleID], nil
}

func (f *fakePluginStore) CreatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) (ragmodel.PluginExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictOnce {
		f.conflictOnce = false
		return ragmodel.PluginExecution{}, ragstore.ErrConflict
	}
	f.executions = append(f.executions, e)
	return e, nil
}

func (f *fakePluginStore) GetPluginExecution(ctx context.Context, id string) (ragmodel.PluginExecution, error) {
	return ragmodel.PluginExecution{}, nil
}

func (f *fakePluginStore) UpdatePluginExecution(ctx context.Context, e ragmodel.PluginExecution) error {
	return nil
}

func (f *fakePluginStore) ReclaimStaleRunning(ctx context.Context, staleAfterSeconds int) (int, error) {
	return f.reclaimed, nil
}

func (f *fakePluginStore) UpdatePluginFeedSchedule(ctx context.Context, feedID string, nextRunAt, lastRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[feedID] = [2]*time.Time{nextRunAt, lastRunAt}
	return nil
}

func TestPluginSource_EnqueuesDueFeedAndAdvancesSchedule(t *testing.T) {
	store := newFakePluginStore(ragmodel.PluginFeed{
		ID: "feed-1", PluginName: "rss-watcher", OwnerUserID: "user-1", IntervalSeconds: 300,
	})
	src := &PluginSource{Store: store, Registry: AllowAllRegistry{}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Claimed)
	assert.Equal(t, 1, counters.Enqueued)
	assert.Len(t, store.executions, 1)
	assert.Equal(t, "feed-1", store.executions[0].ScheduleID)

	depth, err := q.Depth(context.Background(), workload.Ingestion.QueueName())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	require.Contains(t, store.schedules, "feed-1")
}

func TestPluginSource_SkipsUnregisteredPluginButStillAdvancesSchedule(t *testing.T) {
	store := newFakePluginStore(ragmodel.PluginFeed{ID: "feed-2", PluginName: "removed-plugin", OwnerUserID: "user-1"})
	src := &PluginSource{Store: store, Registry: denyAllRegistry{}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.SkippedMissingPlugin)
	assert.Equal(t, 0, counters.Enqueued)
	assert.Empty(t, store.executions)
	assert.Contains(t, store.schedules, "feed-2")
}

func TestPluginSource_SkipsNoOwner(t *testing.T) {
	store := newFakePluginStore(ragmodel.PluginFeed{ID: "feed-3", PluginName: "p"})
	src := &PluginSource{Store: store, Registry: AllowAllRegistry{}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.SkippedMissingPlugin)
	assert.Empty(t, store.executions)
}

func TestPluginSource_SkipsWhenExecutionAlreadyPending(t *testing.T) {
	store := newFakePluginStore(ragmodel.PluginFeed{ID: "feed-4", PluginName: "p", OwnerUserID: "u"})
	store.pending["feed-4"] = true
	src := &PluginSource{Store: store, Registry: AllowAllRegistry{}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.SkippedIdempotent)
	assert.Empty(t, store.executions)
	assert.Contains(t, store.schedules, "feed-4")
}

func TestPluginSource_SkipsWhenConcurrentSchedulerWinsTheClaimRace(t *testing.T) {
	store := newFakePluginStore(ragmodel.PluginFeed{ID: "feed-5", PluginName: "p", OwnerUserID: "u"})
	store.conflictOnce = true
	src := &PluginSource{Store: store, Registry: AllowAllRegistry{}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.SkippedIdempotent)
	assert.Equal(t, 0, counters.Enqueued)
	assert.Empty(t, store.executions)
	assert.Contains(t, store.schedules, "feed-5")
}

func TestPluginSource_CleanupStaleDelegatesToStore(t *testing.T) {
	store := newFakePluginStore()
	store.reclaimed = 4
	src := &PluginSource{Store: store}

	n, err := src.CleanupStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

type denyAllRegistry struct{}

func (denyAllRegistry) IsRegisteredAndEnabled(string) bool { return false }

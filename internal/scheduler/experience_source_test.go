package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/workload"
)

type fakeExperienceStore struct {
	mu          sync.Mutex
	experiences []ragmodel.Experience
	runs        []ragmodel.ExperienceRun
	updated     []ragmodel.Experience
}

func (f *fakeExperienceStore) ClaimDueExperiences(ctx context.Context, limit int) ([]ragmodel.Experience, error) {
	return f.experiences, nil
}

func (f *fakeExperienceStore) GetExperience(ctx context.Context, id string) (ragmodel.Experience, error) {
	return ragmodel.Experience{}, nil
}

func (f *fakeExperienceStore) UpdateExperience(ctx context.Context, e ragmodel.Experience) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, e)
	return nil
}

func (f *fakeExperienceStore) CreateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) (ragmodel.ExperienceRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return r, nil
}

func (f *fakeExperienceStore) UpdateExperienceRun(ctx context.Context, r ragmodel.ExperienceRun) error {
	return nil
}

type fakeUserLister struct {
	ids []string
	err error
}

func (f fakeUserLister) ActiveUserIDs(ctx context.Context) ([]string, error) {
	return f.ids, f.err
}

func TestExperienceSource_FansOutOneRunPerActiveUser(t *testing.T) {
	store := &fakeExperienceStore{experiences: []ragmodel.Experience{{ID: "exp-1", Name: "digest"}}}
	src := &ExperienceSource{Store: store, Users: fakeUserLister{ids: []string{"u1", "u2"}}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Claimed)
	assert.Equal(t, 2, counters.Enqueued)
	assert.Len(t, store.runs, 2)
	require.Len(t, store.updated, 1)
	assert.NotNil(t, store.updated[0].NextRunAt)

	depth, err := q.Depth(context.Background(), workload.LLMWorkflow.QueueName())
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestExperienceSource_AdvancesScheduleEvenWithNoActiveUsers(t *testing.T) {
	store := &fakeExperienceStore{experiences: []ragmodel.Experience{{ID: "exp-2"}}}
	src := &ExperienceSource{Store: store, Users: fakeUserLister{ids: nil}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, counters.Enqueued)
	assert.Empty(t, store.runs)
	require.Len(t, store.updated, 1)
	assert.NotNil(t, store.updated[0].NextRunAt)
}

func TestExperienceSource_ToleratesUserListerFailure(t *testing.T) {
	store := &fakeExperienceStore{experiences: []ragmodel.Experience{{ID: "exp-3"}}}
	src := &ExperienceSource{Store: store, Users: fakeUserLister{err: errors.New("directory down")}}
	q := queue.NewLocal()
	defer q.Close()

	counters, err := src.EnqueueDue(context.Background(), q, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, counters.Enqueued)
	require.Len(t, store.updated, 1)
}

func TestExperienceSource_CleanupStaleIsNoop(t *testing.T) {
	src := &ExperienceSource{}
	n, err := src.CleanupStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

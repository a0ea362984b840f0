package queue

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Queue implementation, acceptable only for
// single-process deployments (spec.md §9). FIFO ordering holds within a
// queue as long as no retries intervene, matching the Shared backend's
// contract exactly so both pass the same property tests.
type Local struct {
	mu       sync.Mutex
	ready    map[string][]*jobEntry // queueName -> FIFO of ready jobs
	leased   map[string]*jobEntry   // jobID -> currently-leased entry
	stop     chan struct{}
	stopOnce sync.Once
}

type jobEntry struct {
	job      Job
	expireAt time.Time
}

// NewLocal creates a Local queue and starts its lease-expiry reaper.
func NewLocal() *Local {
	l := &Local{
		ready:  make(map[string][]*jobEntry),
		leased: make(map[string]*jobEntry),
		stop:   make(chan struct{}),
	}
	go l.reapLoop()
	return l
}

// Close stops the background reaper.
func (l *Local) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Local) reapLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.reap()
		case <-l.stop:
			return
		}
	}
}

func (l *Local) reap() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.leased {
		if now.After(e.expireAt) {
			delete(l.leased, id)
			l.ready[e.job.QueueName] = append(l.ready[e.job.QueueName], e)
		}
	}
}

func (l *Local) Enqueue(_ context.Context, job Job) error {
	if job.ID == "" {
		job = NewJob(job.QueueName, job.Payload)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready[job.QueueName] = append(l.ready[job.QueueName], &jobEntry{job: job.Clone()})
	return nil
}

func (l *Local) Dequeue(_ context.Context, queueName string) (Job, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.ready[queueName]
	if len(q) == 0 {
		return Job{}, false, nil
	}
	e := q[0]
	l.ready[queueName] = q[1:]

	e.job.Attempts++
	e.job.LastDeliveredAt = time.Now().UTC()
	vt := e.job.VisibilityTimeoutSeconds
	if vt <= 0 {
		vt = 60
	}
	e.expireAt = time.Now().Add(time.Duration(vt) * time.Second)
	l.leased[e.job.ID] = e

	return e.job.Clone(), true, nil
}

func (l *Local) Acknowledge(_ context.Context, job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leased, job.ID)
	return nil
}

func (l *Local) Reject(_ context.Context, job Job, requeue bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.leased[job.ID]
	delete(l.leased, job.ID)
	if !requeue {
		return nil
	}
	if !ok {
		// Lease already expired and possibly redelivered; nothing to do
		// beyond what the reaper already did.
		return nil
	}
	e.expireAt = time.Time{}
	l.ready[e.job.QueueName] = append(l.ready[e.job.QueueName], e)
	return nil
}

func (l *Local) ExtendVisibility(_ context.Context, job Job, additionalSeconds int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.leased[job.ID]
	if !ok {
		return false, nil
	}
	e.expireAt = e.expireAt.Add(time.Duration(additionalSeconds) * time.Second)
	return true, nil
}

func (l *Local) Depth(_ context.Context, queueName string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ready[queueName]), nil
}

var _ Queue = (*Local)(nil)

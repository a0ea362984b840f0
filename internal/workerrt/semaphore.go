package workerrt

import "sync"

// capacityLimiter is the process-shared cooperative semaphore keyed by
// workload type (spec.md §4.6). A limit of 0 means unlimited. TryAcquire
// is non-blocking; Release must always be called, success or failure.
type capacityLimiter struct {
	mu     sync.Mutex
	limits map[string]int
	inUse  map[string]int
}

func newCapacityLimiter(limits map[string]int) *capacityLimiter {
	cp := make(map[string]int, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &capacityLimiter{limits: cp, inUse: make(map[string]int)}
}

// TryAcquire attempts to take one permit for workloadType. Returns false
// immediately if the type is at capacity; never blocks.
func (c *capacityLimiter) TryAcquire(workloadType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	limit, bounded := c.limits[workloadType]
	if !bounded || limit <= 0 {
		c.inUse[workloadType]++
		return true
	}
	if c.inUse[workloadType] >= limit {
		return false
	}
	c.inUse[workloadType]++
	return true
}

// Release returns a permit for workloadType.
func (c *capacityLimiter) Release(workloadType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse[workloadType] > 0 {
		c.inUse[workloadType]--
	}
}

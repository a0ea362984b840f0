package cache

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Local is an in-process Cache implementation. It loses all data on
// restart and is only safe for single-process deployments (spec.md §9,
// "in-memory vs. shared backends"). Expiry is checked lazily on access and
// swept periodically by a background goroutine.
type Local struct {
	mu         sync.Mutex
	entries    map[string]localEntry
	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type localEntry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// NewLocal creates a Local cache and starts its sweeper goroutine.
// sweepEvery defaults to 60s per spec.md §4.1 when <= 0.
func NewLocal(sweepEvery time.Duration) *Local {
	if sweepEvery <= 0 {
		sweepEvery = 60 * time.Second
	}
	l := &Local{
		entries:    make(map[string]localEntry),
		sweepEvery: sweepEvery,
		stop:       make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweeper. Safe to call multiple times.
func (l *Local) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Local) sweepLoop() {
	t := time.NewTicker(l.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Local) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if e.expired(now) {
			delete(l.entries, k)
		}
	}
}

func (l *Local) getLocked(key string) ([]byte, bool) {
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(l.entries, key)
		return nil, false
	}
	return e.value, true
}

func (l *Local) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.getLocked(key)
	if !ok {
		return "", false, nil
	}
	return string(v), true, nil
}

func (l *Local) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.getLocked(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (l *Local) setLocked(key string, value []byte, ttl time.Duration) {
	e := localEntry{value: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	l.entries[key] = e
}

func (l *Local) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ttl <= 0 {
		delete(l.entries, key)
		return nil
	}
	l.setLocked(key, []byte(value), ttl)
	return nil
}

func (l *Local) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ttl <= 0 {
		delete(l.entries, key)
		return nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	l.setLocked(key, cp, ttl)
	return nil
}

func (l *Local) Delete(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.getLocked(key)
	delete(l.entries, key)
	return ok, nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.getLocked(key)
	return ok, nil
}

func (l *Local) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, ErrOperationFailed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.getLocked(key)
	if !ok {
		return false, nil
	}
	l.entries[key] = localEntry{value: v, expireAt: time.Now().Add(ttl)}
	return true, nil
}

func (l *Local) incrLocked(key string, delta int64) (int64, error) {
	v, ok := l.getLocked(key)
	var cur int64
	var expireAt time.Time
	if ok {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, ErrTypeMismatch
		}
		cur = n
		expireAt = l.entries[key].expireAt
	}
	cur += delta
	l.entries[key] = localEntry{value: []byte(strconv.FormatInt(cur, 10)), expireAt: expireAt}
	return cur, nil
}

func (l *Local) Incr(_ context.Context, key string, delta int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.incrLocked(key, delta)
}

func (l *Local) Decr(_ context.Context, key string, delta int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.incrLocked(key, -delta)
}

func (l *Local) Keys(_ context.Context, pattern string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	var out []string
	for k, e := range l.entries {
		if e.expired(now) {
			continue
		}
		if ok, _ := filepath.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

var _ Cache = (*Local)(nil)

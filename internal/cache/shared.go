package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Shared is a Redis-backed Cache for horizontally-scaled deployments,
// grounded on the same redis/go-redis/v9 client the teacher uses for its
// orchestrator dedupe store (internal/orchestrator/dedupe.go). Real TTLs
// and atomic INCR/DECR give sub-second precision and cross-process
// visibility.
type Shared struct {
	client *redis.Client
}

// NewShared dials addr and verifies connectivity with a bounded PING.
func NewShared(addr string) (*Shared, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, wrapConn(err)
	}
	return &Shared{client: c}, nil
}

// NewSharedFromClient wraps an already-constructed redis.Client, useful when
// the process shares one connection pool across cache/queue/ratelimit.
func NewSharedFromClient(c *redis.Client) *Shared { return &Shared{client: c} }

// Close releases the underlying connection pool.
func (s *Shared) Close() error { return s.client.Close() }

func wrapConn(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrConnectionFailure, err)
}

func (s *Shared) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapConn(err)
	}
	return v, true, nil
}

func (s *Shared) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapConn(err)
	}
	return v, true, nil
}

func (s *Shared) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapConn(err)
	}
	return nil
}

func (s *Shared) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapConn(err)
	}
	return nil
}

func (s *Shared) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, wrapConn(err)
	}
	return n > 0, nil
}

func (s *Shared) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapConn(err)
	}
	return n > 0, nil
}

func (s *Shared) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, ErrOperationFailed
	}
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrapConn(err)
	}
	return ok, nil
}

func (s *Shared) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	n, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		if isWrongType(err) {
			return 0, ErrTypeMismatch
		}
		return 0, wrapConn(err)
	}
	return n, nil
}

func (s *Shared) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	n, err := s.client.DecrBy(ctx, key, delta).Result()
	if err != nil {
		if isWrongType(err) {
			return 0, ErrTypeMismatch
		}
		return 0, wrapConn(err)
	}
	return n, nil
}

func (s *Shared) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapConn(err)
	}
	return out, nil
}

func isWrongType(err error) bool {
	return err != nil && (errors.Is(err, redis.Nil) == false) &&
		(containsAny(err.Error(), "not an integer", "WRONGTYPE"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

var _ Cache = (*Shared)(nil)

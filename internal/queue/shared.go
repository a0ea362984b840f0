package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Shared is a Redis-backed Queue for horizontally-scaled deployments. Per
// SPEC_FULL.md's C2 supplement: a ready list holds job IDs in FIFO order, a
// per-queue "leased" sorted set (scored by lease-expiry unix time) tracks
// in-flight jobs, and job bodies live in a separate JSON-blob key so the
// list/zset only ever carry small IDs. A background reaper restores
// expired leases to the tail of the ready list; Attempts is only bumped on
// the next actual Dequeue, matching Local's semantics exactly.
type Shared struct {
	client *redis.Client
	prefix string

	stop     chan struct{}
	stopOnce sync.Once
}

const defaultSharedPrefix = "ragcore:q"

// dequeueScript atomically pops the head of the ready list, loads the job
// body, and adds the id to the leased zset with the computed expiry, so a
// popped id is never outside both structures. Dequeue then updates the
// body (attempts++, last_delivered_at) and refreshes the lease score.
var dequeueScript = redis.NewScript(`
local readyKey = KEYS[1]
local leasedKey = KEYS[2]
local jobKeyPrefix = ARGV[1]
local nowUnix = tonumber(ARGV[2])

local id = redis.call('LPOP', readyKey)
if not id then
  return nil
end

local jobKey = jobKeyPrefix .. id
local body = redis.call('GET', jobKey)
if not body then
  return nil
end

local vt = tonumber(cjson.decode(body)['VisibilityTimeoutSeconds']) or 0
if vt <= 0 then
  vt = 60
end
redis.call('ZADD', leasedKey, nowUnix + vt, id)

return {id, body}
`)

// NewShared dials addr and verifies connectivity, starting the lease reaper.
func NewShared(addr string) (*Shared, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	return NewSharedFromClient(c)
}

// NewSharedFromClient wraps an existing redis.Client, useful when cache and
// queue share one connection pool.
func NewSharedFromClient(c *redis.Client) (*Shared, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(ErrConnectionFailure, err)
	}
	s := &Shared{client: c, prefix: defaultSharedPrefix, stop: make(chan struct{})}
	go s.reapLoop()
	return s, nil
}

// Close stops the reaper and closes the underlying connection.
func (s *Shared) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.client.Close()
}

func (s *Shared) readyKey(queueName string) string  { return s.prefix + ":ready:" + queueName }
func (s *Shared) leasedKey(queueName string) string { return s.prefix + ":leased:" + queueName }
func (s *Shared) namesKey() string                  { return s.prefix + ":names" }
func (s *Shared) jobKeyPrefix() string              { return s.prefix + ":job:" }
func (s *Shared) jobKey(id string) string           { return s.jobKeyPrefix() + id }

func (s *Shared) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		job = NewJob(job.QueueName, job.Payload)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Join(ErrOperationFailed, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(job.ID), body, 0)
	pipe.RPush(ctx, s.readyKey(job.QueueName), job.ID)
	pipe.SAdd(ctx, s.namesKey(), job.QueueName)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Join(ErrConnectionFailure, err)
	}
	return nil
}

func (s *Shared) Dequeue(ctx context.Context, queueName string) (Job, bool, error) {
	res, err := dequeueScript.Run(ctx, s.client,
		[]string{s.readyKey(queueName), s.leasedKey(queueName)},
		s.jobKeyPrefix(), time.Now().Unix(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, errors.Join(ErrConnectionFailure, err)
	}
	if res == nil {
		return Job{}, false, nil
	}
	pair, ok := res.([]any)
	if !ok || len(pair) != 2 {
		return Job{}, false, nil
	}
	id, _ := pair[0].(string)
	body, _ := pair[1].(string)

	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, false, errors.Join(ErrOperationFailed, err)
	}

	job.Attempts++
	job.LastDeliveredAt = time.Now().UTC()
	vt := job.VisibilityTimeoutSeconds
	if vt <= 0 {
		vt = 60
	}
	expireAt := time.Now().Add(time.Duration(vt) * time.Second).Unix()

	newBody, _ := json.Marshal(job)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.jobKey(id), newBody, 0)
	pipe.ZAdd(ctx, s.leasedKey(queueName), redis.Z{Score: float64(expireAt), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return Job{}, false, errors.Join(ErrConnectionFailure, err)
	}
	return job, true, nil
}

func (s *Shared) Acknowledge(ctx context.Context, job Job) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.leasedKey(job.QueueName), job.ID)
	pipe.Del(ctx, s.jobKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Join(ErrConnectionFailure, err)
	}
	return nil
}

func (s *Shared) Reject(ctx context.Context, job Job, requeue bool) error {
	if err := s.client.ZRem(ctx, s.leasedKey(job.QueueName), job.ID).Err(); err != nil {
		return errors.Join(ErrConnectionFailure, err)
	}
	if !requeue {
		return s.client.Del(ctx, s.jobKey(job.ID)).Err()
	}
	// Made immediately visible again by pushing to the head of the ready
	// list (spec.md §4.2: "implementations may simply make it immediately
	// visible").
	if err := s.client.LPush(ctx, s.readyKey(job.QueueName), job.ID).Err(); err != nil {
		return errors.Join(ErrConnectionFailure, err)
	}
	return nil
}

func (s *Shared) ExtendVisibility(ctx context.Context, job Job, additionalSeconds int) (bool, error) {
	score, err := s.client.ZScore(ctx, s.leasedKey(job.QueueName), job.ID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Join(ErrConnectionFailure, err)
	}
	newScore := score + float64(additionalSeconds)
	if err := s.client.ZAdd(ctx, s.leasedKey(job.QueueName), redis.Z{Score: newScore, Member: job.ID}).Err(); err != nil {
		return false, errors.Join(ErrConnectionFailure, err)
	}
	return true, nil
}

func (s *Shared) Depth(ctx context.Context, queueName string) (int, error) {
	n, err := s.client.LLen(ctx, s.readyKey(queueName)).Result()
	if err != nil {
		return 0, errors.Join(ErrConnectionFailure, err)
	}
	return int(n), nil
}

func (s *Shared) reapLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.reapOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Shared) reapOnce() {
	ctx := context.Background()
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return
	}
	now := float64(time.Now().Unix())
	for _, queueName := range names {
		expired, err := s.client.ZRangeByScore(ctx, s.leasedKey(queueName), &redis.ZRangeBy{
			Min: "-inf", Max: formatFloat(now),
		}).Result()
		if err != nil || len(expired) == 0 {
			continue
		}
		pipe := s.client.TxPipeline()
		for _, id := range expired {
			pipe.ZRem(ctx, s.leasedKey(queueName), id)
			pipe.RPush(ctx, s.readyKey(queueName), id)
		}
		pipe.Exec(ctx)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 0, 64)
}

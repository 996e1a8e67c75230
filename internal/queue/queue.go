// Package queue implements a durable, at-least-once job queue on Redis:
// idempotent enqueue by job id, integer priorities (lower runs first),
// exponential-backoff retry with dead-lettering, lease-based reclaim of
// jobs lost to crashed workers, aggregate counts with a derived health
// signal, and pause/resume for maintenance windows.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/metrics"
)

// Job states.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateDead      = "dead"
)

// Options control one enqueue.
type Options struct {
	Priority    int           // lower = higher priority
	MaxAttempts int           // default 1
	BackoffBase time.Duration // base delay for attempt 1, doubled per attempt
}

// Job is the persisted job envelope.
type Job struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	BackoffBase  time.Duration   `json:"backoffBase"`
	State        string          `json:"state"`
	LastError    string          `json:"lastError,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
}

// Counts are the aggregate queue depths.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// HealthThresholds define when a queue is reported unhealthy.
type HealthThresholds struct {
	MaxWaiting int64
	MaxFailed  int64
}

// DefaultHealthThresholds per the operational contract.
var DefaultHealthThresholds = HealthThresholds{MaxWaiting: 1000, MaxFailed: 50}

// DefaultLease bounds how long a popped job may stay active without an Ack
// or Fail before it is handed out again.
const DefaultLease = time.Minute

// Healthy compares counts against thresholds.
func (c Counts) Healthy(th HealthThresholds) bool {
	return c.Waiting <= th.MaxWaiting && c.Failed <= th.MaxFailed
}

// BackoffDelay is base * 2^(attempt-1): monotonically increasing per attempt.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(int64(1)<<uint(attempt-1))
}

// Queue is a named Redis-backed job queue. All mutation goes through atomic
// Redis primitives (SETNX gate, ZPOPMIN), so concurrent producers/consumers
// in separate processes interleave safely.
type Queue struct {
	rdb   redis.Cmdable
	name  string
	log   *zap.Logger
	now   func() time.Time
	lease time.Duration
}

func New(rdb redis.Cmdable, name string, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{rdb: rdb, name: name, log: log, now: time.Now, lease: DefaultLease}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) key(parts ...string) string {
	k := "q:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// waitScore packs priority and arrival order into one ZSET score so that
// lower priorities pop first and FIFO holds within a priority.
func waitScore(priority int, seq int64) float64 {
	return float64(priority)*1e12 + float64(seq)
}

// Enqueue adds a job idempotently. If a non-terminal job with the same id
// already exists, the existing job is returned and created is false.
func (q *Queue) Enqueue(ctx context.Context, id string, payload any, opts Options) (job *Job, created bool, err error) {
	if id == "" {
		return nil, false, errors.New("queue: empty job id")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	ok, err := q.rdb.SetNX(ctx, q.key("ids", id), 1, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue: setnx id gate: %w", err)
	}
	if !ok {
		existing, err := q.load(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			metrics.QueueJobs.WithLabelValues(q.name, "deduped").Inc()
			return existing, false, nil
		}
		// orphaned gate without a job record: fall through and recreate
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("queue: marshal payload: %w", err)
	}

	seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue: seq: %w", err)
	}

	j := &Job{
		ID:          id,
		Payload:     raw,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase,
		State:       StateWaiting,
		EnqueuedAt:  q.now().UTC(),
	}
	if err := q.store(ctx, j); err != nil {
		return nil, false, err
	}
	if err := q.rdb.ZAdd(ctx, q.key("wait"), redis.Z{
		Score:  waitScore(opts.Priority, seq),
		Member: id,
	}).Err(); err != nil {
		return nil, false, fmt.Errorf("queue: zadd wait: %w", err)
	}

	metrics.QueueJobs.WithLabelValues(q.name, "enqueued").Inc()
	return j, true, nil
}

// Next pops the highest-priority due job and marks it active under a lease.
// Returns (nil, nil) when the queue is empty or paused. Due delayed jobs
// are promoted and expired leases reclaimed before popping.
func (q *Queue) Next(ctx context.Context) (*Job, error) {
	paused, err := q.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	if err := q.reapExpired(ctx); err != nil {
		return nil, err
	}
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	popped, err := q.rdb.ZPopMin(ctx, q.key("wait"), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: zpopmin: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	id, _ := popped[0].Member.(string)
	j, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		// job record vanished; drop the dangling member
		_ = q.rdb.Del(ctx, q.key("ids", id)).Err()
		return q.Next(ctx)
	}

	j.State = StateActive
	j.AttemptsMade++
	if err := q.store(ctx, j); err != nil {
		return nil, err
	}
	if err := q.rdb.ZAdd(ctx, q.key("active"), redis.Z{
		Score:  float64(q.now().Add(q.lease).UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return nil, fmt.Errorf("queue: zadd active: %w", err)
	}
	return j, nil
}

// reapExpired reclaims active jobs whose lease deadline passed without an
// Ack or Fail (worker crash, lost connection). The attempt was already
// counted when the job went active, so the retry budget still bounds it.
func (q *Queue) reapExpired(ctx context.Context) error {
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)
	expired, err := q.rdb.ZRangeByScore(ctx, q.key("active"), &redis.ZRangeBy{
		Min: "-inf", Max: nowMs, Count: 128,
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: zrangebyscore active: %w", err)
	}

	for _, id := range expired {
		removed, err := q.rdb.ZRem(ctx, q.key("active"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another consumer reaped it
		}
		j, err := q.load(ctx, id)
		if err != nil {
			return err
		}
		if j == nil {
			_ = q.rdb.Del(ctx, q.key("ids", id)).Err()
			continue
		}
		q.log.Warn("job lease expired, reclaiming",
			zap.String("queue", q.name),
			zap.String("job_id", id),
			zap.Int("attempts", j.AttemptsMade),
		)
		if err := q.retryOrDead(ctx, j, "lease expired"); err != nil {
			return err
		}
	}
	return nil
}

// promoteDue moves delayed jobs whose backoff elapsed back onto the wait set.
func (q *Queue) promoteDue(ctx context.Context) error {
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf", Max: nowMs, Count: 128,
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: zrangebyscore delayed: %w", err)
	}

	for _, id := range due {
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another consumer promoted it
		}
		j, err := q.load(ctx, id)
		if err != nil {
			return err
		}
		if j == nil {
			continue
		}
		seq, err := q.rdb.Incr(ctx, q.key("seq")).Result()
		if err != nil {
			return err
		}
		j.State = StateWaiting
		if err := q.store(ctx, j); err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, q.key("wait"), redis.Z{
			Score:  waitScore(j.Priority, seq),
			Member: id,
		}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ack completes a job. The id gate is released so the same id may be
// enqueued again once terminal.
func (q *Queue) Ack(ctx context.Context, id string) error {
	j, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("queue: ack unknown job %s", id)
	}

	j.State = StateCompleted
	if err := q.store(ctx, j); err != nil {
		return err
	}
	if err := q.rdb.ZRem(ctx, q.key("active"), id).Err(); err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, q.key("completed"), redis.Z{
		Score:  float64(q.now().UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return err
	}
	if err := q.rdb.Del(ctx, q.key("ids", id)).Err(); err != nil {
		return err
	}
	metrics.QueueJobs.WithLabelValues(q.name, "completed").Inc()
	return nil
}

// Fail records a failed attempt. The job is re-scheduled with exponential
// backoff until MaxAttempts is exhausted, then dead-lettered (retained, not
// dropped).
func (q *Queue) Fail(ctx context.Context, id string, cause string) error {
	j, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("queue: fail unknown job %s", id)
	}

	if err := q.rdb.ZRem(ctx, q.key("active"), id).Err(); err != nil {
		return err
	}
	return q.retryOrDead(ctx, j, cause)
}

// retryOrDead re-schedules j with exponential backoff, or dead-letters it
// once MaxAttempts is exhausted. The caller has already removed j from the
// active set.
func (q *Queue) retryOrDead(ctx context.Context, j *Job, cause string) error {
	j.LastError = cause

	if j.AttemptsMade >= j.MaxAttempts {
		j.State = StateDead
		if err := q.store(ctx, j); err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, q.key("dead"), redis.Z{
			Score:  float64(q.now().UnixMilli()),
			Member: j.ID,
		}).Err(); err != nil {
			return err
		}
		if err := q.rdb.Del(ctx, q.key("ids", j.ID)).Err(); err != nil {
			return err
		}
		metrics.QueueJobs.WithLabelValues(q.name, "dead").Inc()
		q.log.Warn("job dead-lettered",
			zap.String("queue", q.name),
			zap.String("job_id", j.ID),
			zap.Int("attempts", j.AttemptsMade),
			zap.String("cause", cause),
		)
		return nil
	}

	delay := BackoffDelay(j.BackoffBase, j.AttemptsMade)
	j.State = StateDelayed
	if err := q.store(ctx, j); err != nil {
		return err
	}
	if err := q.rdb.ZAdd(ctx, q.key("delayed"), redis.Z{
		Score:  float64(q.now().Add(delay).UnixMilli()),
		Member: j.ID,
	}).Err(); err != nil {
		return err
	}
	metrics.QueueJobs.WithLabelValues(q.name, "retried").Inc()
	return nil
}

// Counts returns the aggregate queue depths.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	var err error

	if c.Waiting, err = q.rdb.ZCard(ctx, q.key("wait")).Result(); err != nil {
		return c, err
	}
	if c.Active, err = q.rdb.ZCard(ctx, q.key("active")).Result(); err != nil {
		return c, err
	}
	if c.Completed, err = q.rdb.ZCard(ctx, q.key("completed")).Result(); err != nil {
		return c, err
	}
	if c.Failed, err = q.rdb.ZCard(ctx, q.key("dead")).Result(); err != nil {
		return c, err
	}
	if c.Delayed, err = q.rdb.ZCard(ctx, q.key("delayed")).Result(); err != nil {
		return c, err
	}

	metrics.QueueDepth.WithLabelValues(q.name, "waiting").Set(float64(c.Waiting))
	metrics.QueueDepth.WithLabelValues(q.name, "active").Set(float64(c.Active))
	metrics.QueueDepth.WithLabelValues(q.name, "delayed").Set(float64(c.Delayed))
	metrics.QueueDepth.WithLabelValues(q.name, "completed").Set(float64(c.Completed))
	metrics.QueueDepth.WithLabelValues(q.name, "failed").Set(float64(c.Failed))
	return c, nil
}

// Pause stops Next from handing out jobs. Queued jobs are retained.
func (q *Queue) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, q.key("paused"), 1, 0).Err()
}

// Resume re-enables job hand-out from where the queue left off.
func (q *Queue) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, q.key("paused")).Err()
}

func (q *Queue) Paused(ctx context.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clean removes completed jobs older than olderThan and dead jobs older
// than 7x olderThan; failed jobs are kept around longer for investigation.
// Returns the number of removed jobs.
func (q *Queue) Clean(ctx context.Context, olderThan time.Duration) (int64, error) {
	removedCompleted, err := q.cleanSet(ctx, q.key("completed"), olderThan)
	if err != nil {
		return removedCompleted, err
	}
	removedDead, err := q.cleanSet(ctx, q.key("dead"), 7*olderThan)
	return removedCompleted + removedDead, err
}

func (q *Queue) cleanSet(ctx context.Context, setKey string, olderThan time.Duration) (int64, error) {
	cutoff := strconv.FormatInt(q.now().Add(-olderThan).UnixMilli(), 10)

	ids, err := q.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min: "-inf", Max: cutoff,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, 0, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
		keys = append(keys, q.key("job", id))
	}
	if err := q.rdb.ZRem(ctx, setKey, members...).Err(); err != nil {
		return 0, err
	}
	if err := q.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (q *Queue) store(ctx context.Context, j *Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.key("job", j.ID), raw, 0).Err()
}

func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.key("job", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get job %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job %s: %w", id, err)
	}
	return &j, nil
}

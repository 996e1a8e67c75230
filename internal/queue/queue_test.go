package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test", nil), mr
}

type testPayload struct {
	Value string `json:"value"`
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	j1, created, err := q.Enqueue(ctx, "job-1", testPayload{Value: "a"}, Options{MaxAttempts: 3})
	require.NoError(t, err)
	require.True(t, created)

	j2, created, err := q.Enqueue(ctx, "job-1", testPayload{Value: "b"}, Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.False(t, created, "second enqueue with a live id must dedupe")
	assert.Equal(t, j1.ID, j2.ID)

	var p testPayload
	require.NoError(t, json.Unmarshal(j2.Payload, &p))
	assert.Equal(t, "a", p.Value, "the original job wins")

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestEnqueueAfterTerminalCreatesNewJob(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, created, err := q.Enqueue(ctx, "job-1", testPayload{Value: "a"}, Options{})
	require.NoError(t, err)
	require.True(t, created)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	require.NoError(t, q.Ack(ctx, j.ID))

	_, created, err = q.Enqueue(ctx, "job-1", testPayload{Value: "b"}, Options{})
	require.NoError(t, err)
	assert.True(t, created, "terminal jobs release the id gate")
}

func TestNextRespectsPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "routine-1", testPayload{}, Options{Priority: 3})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, "critical", testPayload{}, Options{Priority: 1})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, "routine-2", testPayload{}, Options{Priority: 3})
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{"critical", "routine-1", "routine-2"}, order)
}

func TestFailRetriesWithBackoffThenDeadLetters(t *testing.T) {
	t.Parallel()

	q, mr := newTestQueue(t)
	ctx := context.Background()

	base := 10 * time.Second
	var offset time.Duration
	q.now = func() time.Time { return time.Now().Add(offset) }

	_, _, err := q.Enqueue(ctx, "flaky", testPayload{}, Options{MaxAttempts: 3, BackoffBase: base})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j, "attempt %d should be handed out", attempt)
		assert.Equal(t, attempt, j.AttemptsMade)

		require.NoError(t, q.Fail(ctx, j.ID, "provider down"))

		if attempt < 3 {
			// not due yet
			j, err = q.Next(ctx)
			require.NoError(t, err)
			assert.Nil(t, j)

			// delay doubles per attempt
			offset += BackoffDelay(base, attempt)
		}
	}

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed, "exhausted job is retained in the dead set")
	assert.Equal(t, int64(0), counts.Waiting)

	_ = mr // mr kept alive by cleanup
}

func TestStalledActiveJobReclaimedAfterLease(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	var offset time.Duration
	q.now = func() time.Time { return time.Now().Add(offset) }

	_, _, err := q.Enqueue(ctx, "stuck", testPayload{}, Options{MaxAttempts: 3})
	require.NoError(t, err)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, 1, j.AttemptsMade)

	// the worker holding the job dies without Ack or Fail; within the lease
	// nothing is handed out and the id gate still dedupes
	j2, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j2)
	_, created, err := q.Enqueue(ctx, "stuck", testPayload{}, Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.False(t, created)

	offset = q.lease + time.Second

	j2, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j2, "expired lease puts the job back in circulation")
	assert.Equal(t, "stuck", j2.ID)
	assert.Equal(t, 2, j2.AttemptsMade, "the lost attempt counts against the budget")

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Active)
}

func TestStalledJobDeadLettersWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	var offset time.Duration
	q.now = func() time.Time { return time.Now().Add(offset) }

	_, _, err := q.Enqueue(ctx, "stuck", testPayload{}, Options{MaxAttempts: 1})
	require.NoError(t, err)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)

	offset = q.lease + time.Second

	j, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j, "no retry budget left")

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Active)
	assert.Equal(t, int64(1), counts.Failed, "reclaimed job lands in the dead set, not the void")

	_, created, err := q.Enqueue(ctx, "stuck", testPayload{}, Options{MaxAttempts: 1})
	require.NoError(t, err)
	assert.True(t, created, "dead-lettering releases the id gate")
}

func TestBackoffDelayDoubles(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	assert.Equal(t, 30*time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 60*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 120*time.Second, BackoffDelay(base, 3))
	assert.Equal(t, 30*time.Second, BackoffDelay(base, 0))
}

func TestPauseStopsHandout(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "job-1", testPayload{}, Options{})
	require.NoError(t, err)

	require.NoError(t, q.Pause(ctx))
	j, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j, "paused queue hands out nothing")

	require.NoError(t, q.Resume(ctx))
	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j, "resume continues where the queue left off")
	assert.Equal(t, "job-1", j.ID)
}

func TestCountsAndHealth(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := q.Enqueue(ctx, id, testPayload{}, Options{})
		require.NoError(t, err)
	}
	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, j.ID))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)
	assert.Equal(t, int64(1), counts.Completed)

	assert.True(t, counts.Healthy(DefaultHealthThresholds))
	assert.False(t, counts.Healthy(HealthThresholds{MaxWaiting: 1, MaxFailed: 50}))
	assert.True(t, Counts{Waiting: 1000, Failed: 50}.Healthy(DefaultHealthThresholds))
	assert.False(t, Counts{Waiting: 1001}.Healthy(DefaultHealthThresholds))
	assert.False(t, Counts{Failed: 51}.Healthy(DefaultHealthThresholds))
}

func TestCleanKeepsFailedSevenTimesLonger(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return start }

	// one completed, one dead, both stamped at start
	_, _, err := q.Enqueue(ctx, "done", testPayload{}, Options{})
	require.NoError(t, err)
	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, j.ID))

	_, _, err = q.Enqueue(ctx, "broken", testPayload{}, Options{MaxAttempts: 1})
	require.NoError(t, err)
	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, j.ID, "boom"))

	threshold := time.Hour

	// past the completed threshold but inside the 7x dead retention
	q.now = func() time.Time { return start.Add(2 * time.Hour) }
	removed, err := q.Clean(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Completed)
	assert.Equal(t, int64(1), counts.Failed, "dead jobs survive the completed threshold")

	// past 7x: the dead job goes too
	q.now = func() time.Time { return start.Add(8 * time.Hour) }
	removed, err = q.Clean(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Failed)
}

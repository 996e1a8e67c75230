package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/queue"
)

type fakeOutbox struct {
	records   map[string]*model.OutboxRecord
	insertErr error
	markErr   error
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{records: make(map[string]*model.OutboxRecord)}
}

func (f *fakeOutbox) Insert(_ context.Context, _ *sqlx.Tx, rec model.OutboxRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	rec.Status = model.StatusPending
	f.records[rec.OutboxID] = &rec
	return nil
}

func (f *fakeOutbox) MarkEnqueued(_ context.Context, _ *sqlx.Tx, outboxID, jobID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	if rec, ok := f.records[outboxID]; ok {
		rec.Status = model.StatusEnqueued
		rec.JobID.String = jobID
		rec.JobID.Valid = true
	}
	return nil
}

func (f *fakeOutbox) GetByID(_ context.Context, outboxID string) (*model.OutboxRecord, error) {
	return f.records[outboxID], nil
}

func (f *fakeOutbox) ListStalePending(_ context.Context, _ time.Duration, _ int) ([]model.OutboxRecord, error) {
	var out []model.OutboxRecord
	for _, rec := range f.records {
		if rec.Status == model.StatusPending {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeOutbox) BatchUpdateStatus(_ context.Context, _ *sqlx.Tx, ids []string, status model.OutboxStatus) error {
	for _, id := range ids {
		if rec, ok := f.records[id]; ok {
			rec.Status = status
		}
	}
	return nil
}

type fakeEnqueuer struct {
	jobs     map[string]*queue.Job
	failures int // errors returned before succeeding
	calls    int
	lastOpts queue.Options
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{jobs: make(map[string]*queue.Job)}
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, id string, _ any, opts queue.Options) (*queue.Job, bool, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, false, errors.New("connection refused")
	}
	f.lastOpts = opts
	if j, ok := f.jobs[id]; ok {
		return j, false, nil
	}
	j := &queue.Job{ID: id, Priority: opts.Priority, MaxAttempts: opts.MaxAttempts, State: queue.StateWaiting}
	f.jobs[id] = j
	return j, true, nil
}

func testRequest() SendRequest {
	return SendRequest{
		CompanyID: "co-1",
		RequestID: "req-1",
		To:        []string{"user@example.com"},
		Subject:   "hello",
		HTMLRef:   "html:abc",
	}
}

func TestDispatchHappyPath(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	jobs := newFakeEnqueuer()
	d := New(outbox, jobs, Config{}, nil)

	res, err := d.Dispatch(context.Background(), testRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, res.OutboxID)
	assert.Equal(t, res.OutboxID, res.JobID, "job id is the outbox id")
	assert.Equal(t, model.StatusEnqueued, res.Status)
	assert.Equal(t, "req-1", res.RequestID)

	rec := outbox.records[res.OutboxID]
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusEnqueued, rec.Status)
	assert.Equal(t, res.JobID, rec.JobID.String)

	assert.Equal(t, PriorityFor(JobTypeSend), jobs.lastOpts.Priority)
}

func TestDispatchTwiceYieldsSameJob(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	jobs := newFakeEnqueuer()
	d := New(outbox, jobs, Config{}, nil)
	d.newID = func() string { return "fixed-outbox-id" }

	res1, err := d.Dispatch(context.Background(), testRequest())
	require.NoError(t, err)
	res2, err := d.Dispatch(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, res1.JobID, res2.JobID)
	assert.Len(t, jobs.jobs, 1, "at most one live job per outbox id")
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()

	d := New(newFakeOutbox(), newFakeEnqueuer(), Config{}, nil)

	_, err := d.Dispatch(context.Background(), SendRequest{CompanyID: "co-1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = d.Dispatch(context.Background(), SendRequest{To: []string{"a@b.com"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDispatchPersistenceFailureSurfaces(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	outbox.insertErr = errors.New("db down")
	d := New(outbox, newFakeEnqueuer(), Config{}, nil)

	_, err := d.Dispatch(context.Background(), testRequest())
	require.Error(t, err, "losing a send request must never be silent")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestDispatchEnqueueFailureLeavesPending(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	jobs := newFakeEnqueuer()
	jobs.failures = 100 // never succeeds within the inline budget
	d := New(outbox, jobs, Config{MaxEnqueueAttempts: 2}, nil)

	res, err := d.Dispatch(context.Background(), testRequest())
	require.NoError(t, err, "queue outage is not a caller-visible error")

	assert.Equal(t, model.StatusPending, res.Status)
	assert.Empty(t, res.JobID)
	assert.Equal(t, 2, jobs.calls, "inline retry is bounded")

	rec := outbox.records[res.OutboxID]
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusPending, rec.Status, "record stays recoverable")
}

func TestDispatchRetriesEnqueueInline(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	jobs := newFakeEnqueuer()
	jobs.failures = 1
	d := New(outbox, jobs, Config{MaxEnqueueAttempts: 3}, nil)

	res, err := d.Dispatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnqueued, res.Status)
	assert.Equal(t, 2, jobs.calls)
}

func TestReenqueueRecoversStalePending(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	jobs := newFakeEnqueuer()
	jobs.failures = 100
	d := New(outbox, jobs, Config{MaxEnqueueAttempts: 1}, nil)

	res, err := d.Dispatch(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, res.Status)

	// queue comes back; the sweep picks the record up
	jobs.failures = 0
	sweeper := NewSweeper(outbox, d, time.Minute, time.Minute, 10, nil)
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	rec := outbox.records[res.OutboxID]
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusEnqueued, rec.Status)
	assert.Equal(t, PriorityFor(JobTypeRecovery), jobs.lastOpts.Priority,
		"recovery jobs run ahead of routine sends")
}

func TestPriorityForIsTotal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, PriorityFor(JobTypeRecovery))
	assert.Equal(t, 2, PriorityFor(JobTypeResend))
	assert.Equal(t, 3, PriorityFor(JobTypeSend))
	assert.Equal(t, defaultPriority, PriorityFor("something.unknown"))
	assert.Equal(t, defaultPriority, PriorityFor(""))
}

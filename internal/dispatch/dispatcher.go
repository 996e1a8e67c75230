// Package dispatch turns a validated send request into a durable outbox
// record plus an idempotently enqueued delivery job. This is the only place
// a send request becomes work.
package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/apperr"
	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/repository"
)

// Enqueuer is the slice of the job queue the dispatcher depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, id string, payload any, opts queue.Options) (*queue.Job, bool, error)
}

// SendRequest is a validated inbound send.
type SendRequest struct {
	CompanyID string
	RequestID string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	HTMLRef   string
	Recipient model.Recipient
}

// Result is what the caller gets back. Status is ENQUEUED on the happy path
// and PENDING when the queue was unreachable (the record is recovered by the
// reconciliation sweep).
type Result struct {
	OutboxID  string
	JobID     string
	RequestID string
	Status    model.OutboxStatus
}

// Config carries the retry policy handed to the queue for delivery jobs and
// the inline enqueue retry bound for the request path.
type Config struct {
	MaxEnqueueAttempts int           // inline attempts before deferring to reconciliation
	MaxAttempts        int           // delivery job retry budget
	BaseDelay          time.Duration // delivery job backoff base
}

type Dispatcher struct {
	outbox repository.OutboxRepository
	jobs   Enqueuer
	cfg    Config
	log    *zap.Logger
	newID  func() string
	now    func() time.Time
}

func New(outboxRepo repository.OutboxRepository, jobs Enqueuer, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.MaxEnqueueAttempts < 1 {
		cfg.MaxEnqueueAttempts = 3
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		outbox: outboxRepo,
		jobs:   jobs,
		cfg:    cfg,
		log:    log,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Dispatch persists a PENDING outbox record, enqueues the delivery job with
// jobId = outboxId, and transitions the record to ENQUEUED. Persistence
// failure surfaces as an error; enqueue failure does not, the record stays
// PENDING for the reconciliation sweep.
func (d *Dispatcher) Dispatch(ctx context.Context, req SendRequest) (Result, error) {
	if len(req.To) == 0 && req.Recipient.Email == "" {
		return Result{}, apperr.New(apperr.KindValidation, "send request has no recipient")
	}
	if req.CompanyID == "" {
		return Result{}, apperr.New(apperr.KindValidation, "send request has no company")
	}

	outboxID := d.newID()
	rec := model.OutboxRecord{
		OutboxID:  outboxID,
		CompanyID: req.CompanyID,
		RequestID: req.RequestID,
		To:        req.To,
		Cc:        req.Cc,
		Bcc:       req.Bcc,
		Subject:   req.Subject,
		HTMLRef:   req.HTMLRef,
		Status:    model.StatusPending,
		Attempt:   1,
	}

	// Losing a send request is worse than admitting one extra: persistence
	// errors are never absorbed.
	if err := d.outbox.Insert(ctx, nil, rec); err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return Result{}, apperr.Wrap(apperr.KindInternal, err, "persist outbox record")
	}

	payload := model.EmailJob{
		OutboxID:   outboxID,
		CompanyID:  req.CompanyID,
		RequestID:  req.RequestID,
		To:         req.To,
		Cc:         req.Cc,
		Bcc:        req.Bcc,
		Subject:    req.Subject,
		HTMLRef:    req.HTMLRef,
		Recipient:  req.Recipient,
		Attempt:    1,
		EnqueuedAt: d.now().UTC(),
	}

	jobID, err := d.enqueue(ctx, outboxID, payload, JobTypeSend)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("pending").Inc()
		d.log.Warn("enqueue failed, outbox record left pending for reconciliation",
			zap.String("outbox_id", outboxID),
			zap.String("company_id", req.CompanyID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return Result{OutboxID: outboxID, RequestID: req.RequestID, Status: model.StatusPending}, nil
	}

	if err := d.outbox.MarkEnqueued(ctx, nil, outboxID, jobID); err != nil {
		// The row stays PENDING; the sweep re-enqueues, which dedupes on the
		// job id, so we still report success to the caller.
		d.log.Error("mark enqueued failed",
			zap.String("outbox_id", outboxID),
			zap.Error(err),
		)
	}

	metrics.DispatchesTotal.WithLabelValues("enqueued").Inc()
	d.log.Info("dispatched",
		zap.String("outbox_id", outboxID),
		zap.String("company_id", req.CompanyID),
		zap.String("request_id", req.RequestID),
		zap.String("job_id", jobID),
	)
	return Result{OutboxID: outboxID, JobID: jobID, RequestID: req.RequestID, Status: model.StatusEnqueued}, nil
}

// Reenqueue retries enqueueing an existing PENDING record. Used by the
// reconciliation sweep; a duplicate enqueue collapses into the live job.
func (d *Dispatcher) Reenqueue(ctx context.Context, rec model.OutboxRecord) (string, error) {
	payload := model.EmailJob{
		OutboxID:   rec.OutboxID,
		CompanyID:  rec.CompanyID,
		RequestID:  rec.RequestID,
		To:         rec.To,
		Cc:         rec.Cc,
		Bcc:        rec.Bcc,
		Subject:    rec.Subject,
		HTMLRef:    rec.HTMLRef,
		Attempt:    rec.Attempt + 1,
		EnqueuedAt: d.now().UTC(),
	}

	jobID, err := d.enqueue(ctx, rec.OutboxID, payload, JobTypeRecovery)
	if err != nil {
		return "", apperr.Wrap(apperr.KindQueueUnavailable, err, "reenqueue outbox record")
	}
	if err := d.outbox.MarkEnqueued(ctx, nil, rec.OutboxID, jobID); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// enqueue performs a small bounded inline retry; anything longer belongs to
// the reconciliation sweep, not the request path.
func (d *Dispatcher) enqueue(ctx context.Context, outboxID string, payload model.EmailJob, jobType string) (string, error) {
	opts := queue.Options{
		Priority:    PriorityFor(jobType),
		MaxAttempts: d.cfg.MaxAttempts,
		BackoffBase: d.cfg.BaseDelay,
	}

	var jobID string
	op := func() error {
		job, _, err := d.jobs.Enqueue(ctx, outboxID, payload, opts)
		if err != nil {
			return err
		}
		jobID = job.ID
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxEnqueueAttempts-1)), ctx)); err != nil {
		return "", err
	}
	return jobID, nil
}

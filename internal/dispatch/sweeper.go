package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/repository"
)

// Sweeper periodically re-enqueues stale PENDING outbox records, those
// whose queue admission failed on the request path. Enqueue dedupes on the
// outbox id, so sweeping a record that made it into the queue is a no-op.
type Sweeper struct {
	outbox     repository.OutboxRepository
	dispatcher *Dispatcher
	interval   time.Duration
	staleAge   time.Duration
	batchSize  int
	log        *zap.Logger
}

func NewSweeper(outboxRepo repository.OutboxRepository, d *Dispatcher, interval, staleAge time.Duration, batchSize int, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAge <= 0 {
		staleAge = 2 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		outbox:     outboxRepo,
		dispatcher: d,
		interval:   interval,
		staleAge:   staleAge,
		batchSize:  batchSize,
		log:        log,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce re-enqueues one batch of stale PENDING records.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	rows, err := s.outbox.ListStalePending(ctx, s.staleAge, s.batchSize)
	if err != nil {
		return err
	}

	recovered := 0
	for _, rec := range rows {
		jobID, err := s.dispatcher.Reenqueue(ctx, rec)
		if err != nil {
			s.log.Warn("reenqueue failed, will retry next sweep",
				zap.String("outbox_id", rec.OutboxID),
				zap.Error(err),
			)
			continue
		}
		recovered++
		s.log.Info("recovered pending outbox record",
			zap.String("outbox_id", rec.OutboxID),
			zap.String("company_id", rec.CompanyID),
			zap.String("job_id", jobID),
		)
	}

	if len(rows) > 0 {
		s.log.Info("reconciliation sweep done",
			zap.Int("stale", len(rows)),
			zap.Int("recovered", recovered),
		)
	}
	return nil
}

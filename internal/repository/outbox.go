package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaypoint/email-gateway/internal/model"
)

// OutboxRepository defines persistence for the outbox table.
type OutboxRepository interface {
	// Insert writes a PENDING record. If tx is nil, it will open/commit an
	// internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, rec model.OutboxRecord) error
	// MarkEnqueued transitions a record to ENQUEUED, stores the queue job id
	// and bumps the attempt counter.
	MarkEnqueued(ctx context.Context, tx *sqlx.Tx, outboxID, jobID string) error
	GetByID(ctx context.Context, outboxID string) (*model.OutboxRecord, error)
	// ListStalePending returns PENDING records older than the given age,
	// oldest first. Used by the reconciliation sweep.
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]model.OutboxRecord, error)
	// BatchUpdateStatus moves many records to a terminal status in one statement.
	BatchUpdateStatus(ctx context.Context, tx *sqlx.Tx, ids []string, status model.OutboxStatus) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, rec model.OutboxRecord) error {
	const q = `
		INSERT INTO outbox
		    (outbox_id, company_id, request_id, to_addrs, cc_addrs, bcc_addrs,
		     subject, html_ref, status, attempt, created_at, updated_at)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING', 1, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			rec.OutboxID, rec.CompanyID, rec.RequestID,
			rec.To, rec.Cc, rec.Bcc,
			rec.Subject, rec.HTMLRef,
		)
		return err
	})
}

func (r *OutboxRepositoryImpl) MarkEnqueued(ctx context.Context, tx *sqlx.Tx, outboxID, jobID string) error {
	const q = `
		UPDATE outbox
		SET status = 'ENQUEUED', job_id = $2, enqueued_at = NOW(),
		    attempt = attempt + CASE WHEN status = 'PENDING' THEN 0 ELSE 1 END,
		    updated_at = NOW()
		WHERE outbox_id = $1 AND status IN ('PENDING', 'ENQUEUED')
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, outboxID, jobID)
		return err
	})
}

func (r *OutboxRepositoryImpl) GetByID(ctx context.Context, outboxID string) (*model.OutboxRecord, error) {
	const q = `SELECT * FROM outbox WHERE outbox_id = $1`

	var rec model.OutboxRecord
	if err := r.db.GetContext(ctx, &rec, q, outboxID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *OutboxRepositoryImpl) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]model.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT * FROM outbox
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	cutoff := time.Now().Add(-olderThan)

	var rows []model.OutboxRecord
	if err := r.db.SelectContext(ctx, &rows, q, cutoff, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) BatchUpdateStatus(ctx context.Context, tx *sqlx.Tx, ids []string, status model.OutboxStatus) error {
	if len(ids) == 0 {
		return nil
	}
	const base = `UPDATE outbox SET status = ?, updated_at = NOW() WHERE outbox_id IN (?)`
	query, args, err := sqlx.In(base, status, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)

	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

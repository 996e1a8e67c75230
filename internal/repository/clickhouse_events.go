package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaypoint/email-gateway/internal/model"
)

// CHEventsRepository stores and aggregates delivery events in ClickHouse.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.DeliveryEvent) error
	// SumCounts aggregates delivery outcomes for a company over [from, to).
	SumCounts(ctx context.Context, companyID string, from, to time.Time) (model.DeliveryCounts, error)
	ListByCompany(ctx context.Context, companyID, eventType string, limit, offset int) ([]model.DeliveryEvent, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.DeliveryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO emailgw.delivery_events
		    (outbox_id, company_id, event_type, bounce_type, recipient, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PreparexContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.OutboxID, ev.CompanyID, ev.Type, ev.BounceType, ev.Recipient, ev.OccurredAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *chEventsRepository) SumCounts(ctx context.Context, companyID string, from, to time.Time) (model.DeliveryCounts, error) {
	const q = `
		SELECT
			countIf(event_type = 'email.sent')                                  AS sent,
			countIf(event_type = 'email.delivered')                             AS delivered,
			countIf(event_type = 'email.bounced' AND bounce_type = 'hard')      AS bounced_hard,
			countIf(event_type = 'email.bounced' AND bounce_type != 'hard')     AS bounced_soft,
			countIf(event_type = 'email.complained')                            AS complained,
			countIf(event_type = 'email.opened')                                AS opened,
			countIf(event_type = 'email.clicked')                               AS clicked
		FROM emailgw.delivery_events
		WHERE company_id = ? AND occurred_at >= ? AND occurred_at < ?
	`

	var counts model.DeliveryCounts
	if err := r.ch.GetContext(ctx, &counts, q, companyID, from, to); err != nil {
		return model.DeliveryCounts{}, err
	}
	return counts, nil
}

func (r *chEventsRepository) ListByCompany(ctx context.Context, companyID, eventType string, limit, offset int) ([]model.DeliveryEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT outbox_id, company_id, event_type, bounce_type, recipient, occurred_at
		FROM emailgw.delivery_events
		WHERE company_id = ?
	`
	args := []any{companyID}

	if eventType != "" {
		q += " AND event_type = ?"
		args = append(args, eventType)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

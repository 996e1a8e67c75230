package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/repository"
	"github.com/relaypoint/email-gateway/internal/webhook"
)

// Service applies delivery-outcome events: it moves outbox records to their
// terminal status, lands the raw events in the analytics store, and fans each
// event out to the tenant's subscribed webhook endpoints.
type Service struct {
	db       *sqlx.DB
	outbox   repository.OutboxRepository
	chEvents repository.CHEventsRepository
	webhooks repository.WebhooksRepository
	fanout   *webhook.Dispatcher
	log      *zap.Logger
}

func NewService(
	db *sqlx.DB,
	outbox repository.OutboxRepository,
	chEvents repository.CHEventsRepository,
	webhooks repository.WebhooksRepository,
	fanout *webhook.Dispatcher,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:       db,
		outbox:   outbox,
		chEvents: chEvents,
		webhooks: webhooks,
		fanout:   fanout,
		log:      log,
	}
}

// Record applies a single event end to end. Used by the SES feedback webhook;
// the Kafka worker batches the store writes instead and calls Fanout directly.
func (s *Service) Record(ctx context.Context, ev model.DeliveryEvent) error {
	if !model.KnownEventType(ev.Type) {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	metrics.DeliveryEvents.WithLabelValues(ev.Type).Inc()

	if status, ok := model.TerminalStatusFor(ev.Type); ok {
		if err := s.ApplyStatuses(ctx, map[model.OutboxStatus][]string{status: {ev.OutboxID}}); err != nil {
			return err
		}
	}
	if err := s.chEvents.InsertBatch(ctx, []model.DeliveryEvent{ev}); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	s.Fanout(ctx, ev)
	return nil
}

// ApplyStatuses moves outbox records to terminal statuses in one transaction.
func (s *Service) ApplyStatuses(ctx context.Context, byStatus map[model.OutboxStatus][]string) error {
	if len(byStatus) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for status, ids := range byStatus {
		if len(ids) == 0 {
			continue
		}
		if err := s.outbox.BatchUpdateStatus(ctx, tx, ids, status); err != nil {
			return fmt.Errorf("batch update %s: %w", status, err)
		}
	}
	return tx.Commit()
}

// Fanout enqueues a delivery job for every active endpoint of the event's
// company that subscribes to its type. Enqueue is idempotent per
// (endpoint, event, payload), so replays from the at-least-once bus are safe.
func (s *Service) Fanout(ctx context.Context, ev model.DeliveryEvent) {
	endpoints, err := s.webhooks.ListActiveByCompany(ctx, ev.CompanyID)
	if err != nil {
		s.log.Error("list webhook endpoints",
			zap.String("company_id", ev.CompanyID), zap.Error(err))
		return
	}
	if len(endpoints) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal event payload", zap.Error(err))
		return
	}

	for _, ep := range endpoints {
		if !ep.Subscribed(ev.Type) {
			continue
		}
		if _, err := s.fanout.EnqueueDelivery(ctx, ep.ID, ev.Type, payload); err != nil {
			s.log.Error("enqueue webhook delivery",
				zap.String("webhook_id", ep.ID),
				zap.String("event_type", ev.Type),
				zap.Error(err))
		}
	}
}

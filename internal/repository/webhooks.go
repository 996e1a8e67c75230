package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/relaypoint/email-gateway/internal/model"
)

// WebhooksRepository defines lookups for tenant webhook endpoints.
type WebhooksRepository interface {
	ListActiveByCompany(ctx context.Context, companyID string) ([]model.WebhookEndpoint, error)
	GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error)
}

type WebhooksRepositoryImpl struct {
	db *sqlx.DB
}

func NewWebhooksRepository(db *sqlx.DB) *WebhooksRepositoryImpl {
	return &WebhooksRepositoryImpl{db: db}
}

func (r *WebhooksRepositoryImpl) ListActiveByCompany(ctx context.Context, companyID string) ([]model.WebhookEndpoint, error) {
	const q = `
		SELECT * FROM webhook_endpoints
		WHERE company_id = $1 AND active = TRUE
		ORDER BY created_at ASC
	`
	var rows []model.WebhookEndpoint
	if err := r.db.SelectContext(ctx, &rows, q, companyID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *WebhooksRepositoryImpl) GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	const q = `SELECT * FROM webhook_endpoints WHERE id = $1`

	var wh model.WebhookEndpoint
	if err := r.db.GetContext(ctx, &wh, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &wh, nil
}

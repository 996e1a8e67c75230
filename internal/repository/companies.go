package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/relaypoint/email-gateway/internal/model"
)

// CompaniesRepository defines tenant lookups.
type CompaniesRepository interface {
	// GetByAPIKey returns (nil, nil) when no company carries the key. Absence
	// is a distinct state, not an error.
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Company, error)
	GetByID(ctx context.Context, id string) (*model.Company, error)
}

type CompaniesRepositoryImpl struct {
	db *sqlx.DB
}

func NewCompaniesRepository(db *sqlx.DB) *CompaniesRepositoryImpl {
	return &CompaniesRepositoryImpl{db: db}
}

func (r *CompaniesRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Company, error) {
	const q = `SELECT * FROM companies WHERE api_key = $1`

	var cu model.Company
	if err := r.db.GetContext(ctx, &cu, q, apiKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cu, nil
}

func (r *CompaniesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Company, error) {
	const q = `SELECT * FROM companies WHERE id = $1`

	var cu model.Company
	if err := r.db.GetContext(ctx, &cu, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cu, nil
}

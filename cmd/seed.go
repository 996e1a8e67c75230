package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/relaypoint/email-gateway/internal/config"
	"github.com/relaypoint/email-gateway/internal/db"
	"github.com/relaypoint/email-gateway/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo companies and a webhook endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pg, err := db.NewPostgresConnection(cfg.Postgres.DSN, db.PostgresOpts{
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			PingTimeout:  cfg.Postgres.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer pg.Close()

		log.Println(">> Seeding demo companies...")

		if err := seedCompanies(pg); err != nil {
			return err
		}
		if err := seedWebhookEndpoint(pg); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedCompanies upserts deterministic demo companies (idempotent on api_key).
func seedCompanies(dbx *sqlx.DB) error {
	companies := []model.Company{
		{
			ID:           "11111111-1111-1111-1111-111111111111",
			Name:         "Acme Corp",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			ID:             "22222222-2222-2222-2222-222222222222",
			Name:           "Foobar LLC",
			APIKey:         "22222222222222222222222222222222",
			Status:         "active",
			RateLimitRPS:   intptr(50),
			RateLimitBurst: intptr(100),
		},
		{
			ID:     "33333333-3333-3333-3333-333333333333",
			Name:   "Beta Testers",
			APIKey: "33333333333333333333333333333333",
			Status: "active",
		},
		{
			ID:     "44444444-4444-4444-4444-444444444444",
			Name:   "Suspended Inc",
			APIKey: "44444444444444444444444444444444",
			Status: "suspended",
		},
	}

	const q = `
INSERT INTO companies
    (id, name, api_key, status, rate_limit_rps, rate_limit_burst, created_at, updated_at)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (api_key) DO UPDATE SET
    name             = EXCLUDED.name,
    status           = EXCLUDED.status,
    rate_limit_rps   = EXCLUDED.rate_limit_rps,
    rate_limit_burst = EXCLUDED.rate_limit_burst,
    updated_at       = EXCLUDED.updated_at
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, c := range companies {
		if _, err := tx.Exec(q, c.ID, c.Name, c.APIKey, c.Status, c.RateLimitRPS, c.RateLimitBurst, now); err != nil {
			return fmt.Errorf("insert company %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit companies: %w", err)
	}
	return nil
}

// seedWebhookEndpoint gives the first demo company one active endpoint
// subscribed to all event types.
func seedWebhookEndpoint(dbx *sqlx.DB) error {
	const q = `
INSERT INTO webhook_endpoints
    (id, company_id, url, secret, events, active, created_at, updated_at)
VALUES
    ('aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa',
     '11111111-1111-1111-1111-111111111111',
     'http://localhost:9090/hooks/email',
     'demo-webhook-secret',
     '{}',
     TRUE, NOW(), NOW())
ON CONFLICT (id) DO NOTHING
`
	if _, err := dbx.Exec(q); err != nil {
		return fmt.Errorf("seed webhook endpoint: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }

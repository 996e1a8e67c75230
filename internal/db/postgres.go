package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type PostgresOpts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration // default 5s
}

// NewPostgresConnection opens the control-plane store (companies, outbox,
// webhook endpoints) and verifies reachability before returning.
func NewPostgresConnection(dsn string, opts PostgresOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty Postgres DSN")
	}
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return openSQL("postgres", dsn, poolOpts{
		maxOpen:     opts.MaxOpenConns,
		maxIdle:     opts.MaxIdleConns,
		maxLifetime: opts.ConnMaxLifetime,
		maxIdleTime: opts.ConnMaxIdleTime,
	}, timeout)
}

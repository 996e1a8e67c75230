package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

type ClickHouseOpts struct {
	DSN             string // e.g. clickhouse://default:@localhost:9000/emailgw?dial_timeout=5s&compress=true
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration // default 3s
}

// NewClickHouseConnection opens the delivery-events analytics store.
func NewClickHouseConnection(opts ClickHouseOpts) (*sqlx.DB, error) {
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return openSQL("clickhouse", opts.DSN, poolOpts{
		maxOpen:     opts.MaxOpenConns,
		maxIdle:     opts.MaxIdleConns,
		maxLifetime: opts.ConnMaxLifetime,
		maxIdleTime: opts.ConnMaxIdleTime,
	}, timeout)
}

package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// poolOpts is the common connection pool tuning shared by the SQL-backed
// stores. Zero fields leave the driver default in place.
type poolOpts struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

func openSQL(driver, dsn string, pool poolOpts, pingTimeout time.Duration) (*sqlx.DB, error) {
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if pool.maxOpen > 0 {
		conn.SetMaxOpenConns(pool.maxOpen)
	}
	if pool.maxIdle > 0 {
		conn.SetMaxIdleConns(pool.maxIdle)
	}
	if pool.maxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.maxLifetime)
	}
	if pool.maxIdleTime > 0 {
		conn.SetConnMaxIdleTime(pool.maxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

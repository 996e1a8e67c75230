package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/relaypoint/email-gateway/internal/config"
	"github.com/relaypoint/email-gateway/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres and ClickHouse migrations",
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

		if err := applyDir(pg, "migrations"); err != nil {
			return err
		}

		ch, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:         cfg.ClickHouse.DSN,
			PingTimeout: cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = ch.Close() }()

		if err := applyDir(ch, filepath.Join("migrations", "clickhouse")); err != nil {
			return err
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}

// applyDir executes every *.sql file in dir in name order.
func applyDir(dbx *sqlx.DB, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(paths)

	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", p, err)
		}
		if _, err := dbx.Exec(string(raw)); err != nil {
			return fmt.Errorf("exec migration %s: %w", p, err)
		}
		fmt.Printf(">> applied %s\n", p)
	}
	return nil
}

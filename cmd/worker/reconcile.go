package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/config"
	"github.com/relaypoint/email-gateway/internal/db"
	"github.com/relaypoint/email-gateway/internal/dispatch"
	"github.com/relaypoint/email-gateway/internal/logger"
	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/repository"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-enqueue stale PENDING outbox records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		log := logger.L()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		pg, err := db.NewPostgresConnection(cfg.Postgres.DSN, db.PostgresOpts{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			PingTimeout:     cfg.Postgres.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer pg.Close()

		rds, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rds.Close() }()

		outboxRepo := repository.NewOutboxRepository(pg)
		emailQueue := queue.New(rds, cfg.Queue.EmailQueue, log)
		dispatcher := dispatch.New(outboxRepo, emailQueue, dispatch.Config{
			MaxEnqueueAttempts: cfg.Dispatch.MaxEnqueueAttempts,
			MaxAttempts:        cfg.Dispatch.MaxAttempts,
			BaseDelay:          cfg.Dispatch.BaseDelay,
		}, log)

		sweeper := dispatch.NewSweeper(outboxRepo, dispatcher,
			cfg.Reconcile.Interval, cfg.Reconcile.StaleAge, cfg.Reconcile.BatchSize, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("reconciliation sweep started",
			zap.Duration("interval", cfg.Reconcile.Interval),
			zap.Duration("stale_age", cfg.Reconcile.StaleAge),
		)
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

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
	"github.com/relaypoint/email-gateway/internal/logger"
	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/repository"
	"github.com/relaypoint/email-gateway/internal/webhook"
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Deliver queued webhook notifications",
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

		webhookQueue := queue.New(rds, cfg.Queue.WebhookQueue, log)
		webhooksRepo := repository.NewWebhooksRepository(pg)

		sender := webhook.NewSender(webhookQueue, webhooksRepo, webhook.SenderConfig{
			SendTimeout:    cfg.Webhook.SendTimeout,
			SendsPerSecond: cfg.Webhook.SendsPerSecond,
			BreakerFails:   cfg.Webhook.BreakerFails,
			BreakerOpenFor: cfg.Webhook.BreakerOpenFor,
			Workers:        cfg.Webhook.Workers,
		}, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("webhook delivery worker started",
			zap.String("queue", cfg.Queue.WebhookQueue),
			zap.Int("workers", cfg.Webhook.Workers),
		)
		if err := sender.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

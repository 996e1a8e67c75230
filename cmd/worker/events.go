package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/config"
	"github.com/relaypoint/email-gateway/internal/db"
	"github.com/relaypoint/email-gateway/internal/events"
	"github.com/relaypoint/email-gateway/internal/kafka"
	"github.com/relaypoint/email-gateway/internal/logger"
	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/repository"
	"github.com/relaypoint/email-gateway/internal/webhook"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Consume delivery-outcome events from Kafka",
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

		ch, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = ch.Close() }()

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

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "emailgw-events"
		}
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.EventsTopic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer consumer.Close()

		outboxRepo := repository.NewOutboxRepository(pg)
		webhooksRepo := repository.NewWebhooksRepository(pg)
		chEventsRepo := repository.NewCHEventsRepository(ch)

		webhookQueue := queue.New(rds, cfg.Queue.WebhookQueue, log)
		fanout := webhook.NewDispatcher(webhookQueue, webhook.Config{
			MaxAttempts: cfg.Webhook.MaxAttempts,
			BaseDelay:   cfg.Webhook.BaseDelay,
		}, log)

		svc := events.NewService(pg, outboxRepo, chEventsRepo, webhooksRepo, fanout, log)
		w := events.NewWorker(consumer, svc, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("events worker started",
			zap.String("topic", cfg.Kafka.EventsTopic),
			zap.String("group", groupID),
			zap.Int("workers", w.Workers),
		)
		return w.Run(ctx)
	},
}

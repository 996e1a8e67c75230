package http

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/config"
	"github.com/relaypoint/email-gateway/internal/dispatch"
	"github.com/relaypoint/email-gateway/internal/events"
	"github.com/relaypoint/email-gateway/internal/http/middleware"
	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/ratelimit"
	"github.com/relaypoint/email-gateway/internal/repository"
	"github.com/relaypoint/email-gateway/internal/reputation"
	"github.com/relaypoint/email-gateway/internal/webhook"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, pg, ch *sqlx.DB, rds *redis.Client, logger *zap.Logger) *Server {
	// repos (Postgres)
	companiesRepo := repository.NewCompaniesRepository(pg)
	outboxRepo := repository.NewOutboxRepository(pg)
	webhooksRepo := repository.NewWebhooksRepository(pg)

	// repos (ClickHouse)
	chEventsRepo := repository.NewCHEventsRepository(ch)

	// queues
	emailQueue := queue.New(rds, cfg.Queue.EmailQueue, logger)
	webhookQueue := queue.New(rds, cfg.Queue.WebhookQueue, logger)

	// services
	dispatcher := dispatch.New(outboxRepo, emailQueue, dispatch.Config{
		MaxEnqueueAttempts: cfg.Dispatch.MaxEnqueueAttempts,
		MaxAttempts:        cfg.Dispatch.MaxAttempts,
		BaseDelay:          cfg.Dispatch.BaseDelay,
	}, logger)
	webhookDispatcher := webhook.NewDispatcher(webhookQueue, webhook.Config{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   cfg.Webhook.BaseDelay,
	}, logger)
	eventsSvc := events.NewService(pg, outboxRepo, chEventsRepo, webhooksRepo, webhookDispatcher, logger)
	reputationSvc := reputation.NewService(chEventsRepo, cfg.Reputation.WindowDays)
	limiter := ratelimit.New(ratelimit.NewRedisStore(rds), cfg.RateLimit.StoreTimeout, logger)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// SNS feedback: pre-auth, tenant resolution comes from message tags
	e.POST("/webhooks/ses", sesWebhookHandler(eventsSvc))

	// middlewares
	ridMW := middleware.RequestIDMiddleware()
	authMW := middleware.APIKeyMiddleware(companiesRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Limiter: limiter,
		Defaults: ratelimit.Config{
			RPS:    cfg.RateLimit.RPS,
			Burst:  cfg.RateLimit.Burst,
			Window: cfg.RateLimit.Window,
		},
	})
	idemMW := middleware.IdempotencyMiddleware(rds)

	// routes
	v1 := e.Group("/v1", ridMW, authMW, rlMW)
	v1.POST("/email/send", sendEmailHandler(dispatcher, rds), idemMW)
	v1.GET("/events", listEventsHandler(chEventsRepo))
	v1.GET("/reputation", reputationHandler(reputationSvc))
	v1.GET("/queue/health", queueHealthHandler(
		[]*queue.Queue{emailQueue, webhookQueue},
		queue.HealthThresholds{MaxWaiting: cfg.Queue.UnhealthyWaiting, MaxFailed: cfg.Queue.UnhealthyFailed},
	))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

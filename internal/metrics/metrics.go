package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailgw_dispatches_total",
			Help: "Outbox dispatch outcomes by result",
		},
		[]string{"result"}, // enqueued|pending|error
	)

	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailgw_rate_limit_decisions_total",
			Help: "Rate limiter decisions by outcome",
		},
		[]string{"outcome"}, // allowed|burst_exceeded|rate_exceeded|degraded
	)

	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailgw_queue_jobs_total",
			Help: "Queue job transitions by queue and stage",
		},
		[]string{"queue", "stage"}, // enqueued|deduped|completed|retried|dead
	)

	DeliveryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailgw_delivery_events_total",
			Help: "Delivery outcome events ingested by type",
		},
		[]string{"type"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailgw_webhook_deliveries_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"}, // sent|failed|breaker_open
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emailgw_queue_depth",
			Help: "Queue counts by queue and state",
		},
		[]string{"queue", "state"}, // waiting|active|delayed|completed|failed
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DispatchesTotal,
		RateLimitDecisions,
		QueueJobs,
		DeliveryEvents,
		WebhookDeliveries,
		QueueDepth,
	)
}

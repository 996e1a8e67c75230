package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/repository"
)

// Sender is the background worker that drains the webhook queue: it signs
// and POSTs each payload to the tenant endpoint, acks on 2xx and fails the
// job otherwise so the queue's backoff/dead-letter policy applies.
type Sender struct {
	jobs     *queue.Queue
	webhooks repository.WebhooksRepository
	log      *zap.Logger

	client   *http.Client
	limiter  *rate.Limiter
	breakers *breakerSet
	workers  int
	idleWait time.Duration
}

type SenderConfig struct {
	SendTimeout    time.Duration
	SendsPerSecond int
	BreakerFails   int
	BreakerOpenFor time.Duration
	Workers        int
}

func NewSender(jobs *queue.Queue, webhooksRepo repository.WebhooksRepository, cfg SenderConfig, log *zap.Logger) *Sender {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.SendsPerSecond <= 0 {
		cfg.SendsPerSecond = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		jobs:     jobs,
		webhooks: webhooksRepo,
		log:      log,
		client:   &http.Client{Timeout: cfg.SendTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.SendsPerSecond),
		breakers: newBreakerSet(cfg.BreakerFails, cfg.BreakerOpenFor),
		workers:  cfg.Workers,
		idleWait: 500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	jobCh := make(chan *queue.Job)

	// fetcher
	go func() {
		defer close(jobCh)
		for {
			if ctx.Err() != nil {
				return
			}
			j, err := s.jobs.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error("webhook queue fetch failed", zap.Error(err))
				time.Sleep(s.idleWait)
				continue
			}
			if j == nil {
				time.Sleep(s.idleWait)
				continue
			}
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < s.workers; i++ {
		go func() {
			for j := range jobCh {
				s.processOne(ctx, j)
			}
		}()
	}

	<-ctx.Done()
	return ctx.Err()
}

func (s *Sender) processOne(ctx context.Context, j *queue.Job) {
	var wj model.WebhookJob
	if err := json.Unmarshal(j.Payload, &wj); err != nil {
		s.log.Error("bad webhook job payload", zap.String("job_id", j.ID), zap.Error(err))
		_ = s.jobs.Fail(ctx, j.ID, "unparseable payload")
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		// shutdown caught the job mid-flight: hand it back through the
		// retry path instead of leaving it stranded active
		if err := s.jobs.Fail(context.WithoutCancel(ctx), j.ID, "sender stopped before delivery"); err != nil {
			s.log.Error("webhook job release", zap.String("job_id", j.ID), zap.Error(err))
		}
		return
	}

	if err := s.deliver(ctx, wj); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		s.log.Warn("webhook delivery failed",
			zap.String("job_id", j.ID),
			zap.String("webhook_id", wj.WebhookID),
			zap.String("event_type", wj.EventType),
			zap.Int("attempt", j.AttemptsMade),
			zap.Error(err),
		)
		if err := s.jobs.Fail(ctx, j.ID, err.Error()); err != nil {
			s.log.Error("webhook job fail transition", zap.String("job_id", j.ID), zap.Error(err))
		}
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("sent").Inc()
	if err := s.jobs.Ack(ctx, j.ID); err != nil {
		s.log.Error("webhook job ack", zap.String("job_id", j.ID), zap.Error(err))
	}
}

func (s *Sender) deliver(ctx context.Context, wj model.WebhookJob) error {
	ep, err := s.webhooks.GetByID(ctx, wj.WebhookID)
	if err != nil {
		return fmt.Errorf("lookup endpoint: %w", err)
	}
	if ep == nil || !ep.Active {
		// endpoint removed or disabled after enqueue; nothing to deliver
		return nil
	}

	br := s.breakers.get(ep.ID)
	if !br.TryAcquire() {
		metrics.WebhookDeliveries.WithLabelValues("breaker_open").Inc()
		return fmt.Errorf("endpoint %s breaker open", ep.ID)
	}

	if err := s.post(ctx, ep, wj); err != nil {
		br.OnFailure()
		return err
	}
	br.OnSuccess()
	return nil
}

func (s *Sender) post(ctx context.Context, ep *model.WebhookEndpoint, wj model.WebhookJob) error {
	body, err := json.Marshal(map[string]any{
		"eventType": wj.EventType,
		"payload":   json.RawMessage(wj.Payload),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", wj.EventType)
	req.Header.Set("X-Webhook-Signature", Sign(ep.Secret, body))

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("endpoint=%s status=%d", ep.ID, res.StatusCode)
	}
	return nil
}

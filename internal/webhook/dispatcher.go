// Package webhook delivers outbound tenant notifications through the same
// enqueue/idempotency/retry pattern as the email send path, at lower stakes:
// failed deliveries are retained for investigation rather than purged.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/queue"
)

// Priority tiers. Failure, bounce and complaint notifications matter most to
// tenants; engagement events trail routine delivery confirmations. Unknown
// event types never error; they fall to the default mid tier.
const (
	priorityCritical = 1
	priorityRoutine  = 2
	priorityDefault  = 3
	priorityOpened   = 4
	priorityClicked  = 5
)

var eventPriorities = map[string]int{
	model.EventFailed:     priorityCritical,
	model.EventBounced:    priorityCritical,
	model.EventComplained: priorityCritical,
	model.EventSent:       priorityRoutine,
	model.EventDelivered:  priorityRoutine,
	model.EventOpened:     priorityOpened,
	model.EventClicked:    priorityClicked,
}

// PriorityFor is total over the event-type space.
func PriorityFor(eventType string) int {
	if p, ok := eventPriorities[eventType]; ok {
		return p
	}
	return priorityDefault
}

// Queuer is the slice of the job queue the dispatcher uses.
type Queuer interface {
	Enqueue(ctx context.Context, id string, payload any, opts queue.Options) (*queue.Job, bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clean(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config is the fixed retry policy for webhook delivery jobs.
type Config struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // doubled per attempt
}

type Dispatcher struct {
	jobs Queuer
	cfg  Config
	log  *zap.Logger
}

func NewDispatcher(jobs Queuer, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{jobs: jobs, cfg: cfg, log: log}
}

// JobID derives the queue idempotency key for one delivery. It is a digest
// of endpoint, event type and payload, so re-dispatching the same event to
// the same endpoint collapses into the live job.
func JobID(webhookID, eventType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(webhookID))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// EnqueueDelivery schedules one notification delivery and returns the job id.
func (d *Dispatcher) EnqueueDelivery(ctx context.Context, webhookID, eventType string, payload json.RawMessage) (string, error) {
	jobID := JobID(webhookID, eventType, payload)

	job := model.WebhookJob{
		WebhookID: webhookID,
		EventType: eventType,
		Payload:   payload,
	}
	_, created, err := d.jobs.Enqueue(ctx, jobID, job, queue.Options{
		Priority:    PriorityFor(eventType),
		MaxAttempts: d.cfg.MaxAttempts,
		BackoffBase: d.cfg.BaseDelay,
	})
	if err != nil {
		return "", err
	}

	d.log.Debug("webhook delivery enqueued",
		zap.String("webhook_id", webhookID),
		zap.String("event_type", eventType),
		zap.String("job_id", jobID),
		zap.Bool("created", created),
	)
	return jobID, nil
}

// Pause stops delivery hand-out for a maintenance window.
func (d *Dispatcher) Pause(ctx context.Context) error { return d.jobs.Pause(ctx) }

// Resume continues delivery from where it left off.
func (d *Dispatcher) Resume(ctx context.Context) error { return d.jobs.Resume(ctx) }

// Clean removes completed deliveries older than olderThan; failed deliveries
// are retained 7x longer (the queue enforces the factor).
func (d *Dispatcher) Clean(ctx context.Context, olderThan time.Duration) (int64, error) {
	return d.jobs.Clean(ctx, olderThan)
}

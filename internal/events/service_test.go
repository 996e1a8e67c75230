package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/queue"
	"github.com/relaypoint/email-gateway/internal/webhook"
)

type fakeWebhooksRepo struct {
	endpoints []model.WebhookEndpoint
}

func (f *fakeWebhooksRepo) ListActiveByCompany(_ context.Context, companyID string) ([]model.WebhookEndpoint, error) {
	var out []model.WebhookEndpoint
	for _, ep := range f.endpoints {
		if ep.CompanyID == companyID && ep.Active {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeWebhooksRepo) GetByID(_ context.Context, id string) (*model.WebhookEndpoint, error) {
	for i := range f.endpoints {
		if f.endpoints[i].ID == id {
			return &f.endpoints[i], nil
		}
	}
	return nil, nil
}

type captureQueuer struct {
	jobs map[string]*queue.Job
}

func newCaptureQueuer() *captureQueuer {
	return &captureQueuer{jobs: make(map[string]*queue.Job)}
}

func (c *captureQueuer) Enqueue(_ context.Context, id string, _ any, opts queue.Options) (*queue.Job, bool, error) {
	if j, ok := c.jobs[id]; ok {
		return j, false, nil
	}
	j := &queue.Job{ID: id, Priority: opts.Priority}
	c.jobs[id] = j
	return j, true, nil
}

func (c *captureQueuer) Pause(context.Context) error  { return nil }
func (c *captureQueuer) Resume(context.Context) error { return nil }
func (c *captureQueuer) Clean(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func testEvent(eventType string) model.DeliveryEvent {
	return model.DeliveryEvent{
		OutboxID:   "o-1",
		CompanyID:  "co-1",
		Type:       eventType,
		OccurredAt: time.Unix(1_700_000_000, 0),
	}
}

func TestFanoutRespectsSubscriptions(t *testing.T) {
	t.Parallel()

	repo := &fakeWebhooksRepo{endpoints: []model.WebhookEndpoint{
		{ID: "wh-all", CompanyID: "co-1", Active: true},
		{ID: "wh-bounces", CompanyID: "co-1", Active: true, Events: []string{model.EventBounced}},
		{ID: "wh-inactive", CompanyID: "co-1", Active: false},
		{ID: "wh-other", CompanyID: "co-2", Active: true},
	}}
	jobs := newCaptureQueuer()
	fanout := webhook.NewDispatcher(jobs, webhook.Config{}, nil)
	svc := NewService(nil, nil, nil, repo, fanout, nil)

	svc.Fanout(context.Background(), testEvent(model.EventOpened))
	assert.Len(t, jobs.jobs, 1, "only the catch-all endpoint wants opens")

	svc.Fanout(context.Background(), testEvent(model.EventBounced))
	assert.Len(t, jobs.jobs, 3, "both co-1 endpoints want bounces")
}

func TestFanoutIsIdempotentPerEvent(t *testing.T) {
	t.Parallel()

	repo := &fakeWebhooksRepo{endpoints: []model.WebhookEndpoint{
		{ID: "wh-1", CompanyID: "co-1", Active: true},
	}}
	jobs := newCaptureQueuer()
	fanout := webhook.NewDispatcher(jobs, webhook.Config{}, nil)
	svc := NewService(nil, nil, nil, repo, fanout, nil)

	ev := testEvent(model.EventDelivered)
	svc.Fanout(context.Background(), ev)
	svc.Fanout(context.Background(), ev)

	assert.Len(t, jobs.jobs, 1, "replaying the same event collapses into the live job")
}

func TestTerminalStatusMapping(t *testing.T) {
	t.Parallel()

	st, ok := model.TerminalStatusFor(model.EventSent)
	require.True(t, ok)
	assert.Equal(t, model.StatusSent, st)

	st, ok = model.TerminalStatusFor(model.EventDelivered)
	require.True(t, ok)
	assert.Equal(t, model.StatusSent, st)

	st, ok = model.TerminalStatusFor(model.EventFailed)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, st)

	st, ok = model.TerminalStatusFor(model.EventBounced)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, st)

	_, ok = model.TerminalStatusFor(model.EventOpened)
	assert.False(t, ok, "engagement events carry no status transition")
	_, ok = model.TerminalStatusFor(model.EventComplained)
	assert.False(t, ok)
}

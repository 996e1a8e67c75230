package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/queue"
)

type stubWebhooksRepo struct{}

func (stubWebhooksRepo) ListActiveByCompany(ctx context.Context, companyID string) ([]model.WebhookEndpoint, error) {
	return nil, nil
}

func (stubWebhooksRepo) GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	return nil, nil
}

func TestProcessOneReleasesJobOnShutdown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	jobs := queue.New(rdb, "wh", nil)
	s := NewSender(jobs, stubWebhooksRepo{}, SenderConfig{}, nil)

	wj := model.WebhookJob{WebhookID: "ep-1", EventType: "email.bounced", Payload: []byte(`{}`)}
	_, _, err := jobs.Enqueue(context.Background(), "job-1", wj, queue.Options{MaxAttempts: 3, BackoffBase: time.Minute})
	require.NoError(t, err)

	j, err := jobs.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)

	// worker context is cancelled before the pacing wait admits the job
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.processOne(ctx, j)

	counts, err := jobs.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Active, "interrupted jobs do not linger active")
	assert.Equal(t, int64(1), counts.Delayed, "they re-enter the retry path instead")
}

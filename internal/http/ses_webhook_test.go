package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint/email-gateway/internal/model"
)

func taggedNotification(notificationType string) sesNotification {
	var n sesNotification
	n.NotificationType = notificationType
	n.Mail.Tags = map[string][]string{
		"outboxId":  {"o-1"},
		"companyId": {"co-1"},
	}
	n.Timestamp = time.Unix(1_700_000_000, 0)
	return n
}

func TestEventsFromSESBounce(t *testing.T) {
	t.Parallel()

	n := taggedNotification("Bounce")
	n.Bounce.BounceType = "Permanent"
	n.Bounce.BouncedRecipients = []struct {
		EmailAddress string `json:"emailAddress"`
	}{{EmailAddress: "a@example.com"}, {EmailAddress: "b@example.com"}}

	evs, ok := eventsFromSES(n)
	require.True(t, ok)
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, "o-1", ev.OutboxID)
		assert.Equal(t, "co-1", ev.CompanyID)
		assert.Equal(t, model.EventBounced, ev.Type)
		assert.Equal(t, model.BounceHard, ev.BounceType)
	}
	assert.Equal(t, "a@example.com", evs[0].Recipient)

	n.Bounce.BounceType = "Transient"
	evs, ok = eventsFromSES(n)
	require.True(t, ok)
	assert.Equal(t, model.BounceSoft, evs[0].BounceType)
}

func TestEventsFromSESComplaintAndDelivery(t *testing.T) {
	t.Parallel()

	n := taggedNotification("Complaint")
	n.Complaint.ComplainedRecipients = []struct {
		EmailAddress string `json:"emailAddress"`
	}{{EmailAddress: "a@example.com"}}

	evs, ok := eventsFromSES(n)
	require.True(t, ok)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventComplained, evs[0].Type)

	n = taggedNotification("Delivery")
	n.Delivery.Recipients = []string{"a@example.com", "b@example.com"}

	evs, ok = eventsFromSES(n)
	require.True(t, ok)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventDelivered, evs[0].Type)
}

func TestEventsFromSESRejectsUnknownOrUntagged(t *testing.T) {
	t.Parallel()

	_, ok := eventsFromSES(taggedNotification("Rendering Failure"))
	assert.False(t, ok)

	n := taggedNotification("Delivery")
	n.Mail.Tags = nil
	_, ok = eventsFromSES(n)
	assert.False(t, ok, "events without correlation tags cannot be attributed")
}

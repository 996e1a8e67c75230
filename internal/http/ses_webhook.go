package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/events"
	"github.com/relaypoint/email-gateway/internal/model"
)

// snsEnvelope is the subset of the SNS message envelope we act on. Signature
// validation happens upstream (SNS topic policy + API gateway), not here.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string              `json:"messageId"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce struct {
		BounceType        string `json:"bounceType"` // Permanent | Transient
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
	Delivery struct {
		Recipients []string `json:"recipients"`
	} `json:"delivery"`
	Timestamp time.Time `json:"timestamp"`
}

func sesWebhookHandler(svc *events.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var env snsEnvelope
		if err := json.NewDecoder(c.Request().Body).Decode(&env); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad envelope"})
		}

		switch env.Type {
		case "SubscriptionConfirmation":
			// confirmation is handled out of band by the operator
			c.Logger().Infof("sns subscription confirmation received: %s", env.SubscribeURL)
			return c.NoContent(http.StatusOK)

		case "Notification":
			var n sesNotification
			if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad notification"})
			}

			evs, ok := eventsFromSES(n)
			if !ok {
				c.Logger().Warnf("unhandled ses notification type: %s", n.NotificationType)
				return c.NoContent(http.StatusOK)
			}

			ctx := c.Request().Context()
			for _, ev := range evs {
				if err := svc.Record(ctx, ev); err != nil {
					c.Logger().Errorf("record delivery event: %v", err)

					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "record failed"})
				}
			}
			return c.NoContent(http.StatusOK)

		default:
			return c.NoContent(http.StatusOK)
		}
	}
}

// eventsFromSES maps one SES notification to delivery events, one per
// affected recipient. The outbox and company ids travel as SES message tags
// set by the sending worker.
func eventsFromSES(n sesNotification) ([]model.DeliveryEvent, bool) {
	eventType, ok := model.EventTypeFromSES(n.NotificationType)
	if !ok {
		return nil, false
	}

	outboxID := firstTag(n.Mail.Tags, "outboxId")
	companyID := firstTag(n.Mail.Tags, "companyId")
	if outboxID == "" || companyID == "" {
		return nil, false
	}

	occurred := n.Timestamp
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	base := model.DeliveryEvent{
		OutboxID:   outboxID,
		CompanyID:  companyID,
		Type:       eventType,
		OccurredAt: occurred,
	}

	var evs []model.DeliveryEvent
	switch eventType {
	case model.EventBounced:
		bounceType := model.BounceSoft
		if strings.EqualFold(n.Bounce.BounceType, "Permanent") {
			bounceType = model.BounceHard
		}
		for _, r := range n.Bounce.BouncedRecipients {
			ev := base
			ev.BounceType = bounceType
			ev.Recipient = r.EmailAddress
			evs = append(evs, ev)
		}
	case model.EventComplained:
		for _, r := range n.Complaint.ComplainedRecipients {
			ev := base
			ev.Recipient = r.EmailAddress
			evs = append(evs, ev)
		}
	case model.EventDelivered:
		for _, r := range n.Delivery.Recipients {
			ev := base
			ev.Recipient = r
			evs = append(evs, ev)
		}
	}

	if len(evs) == 0 {
		evs = append(evs, base)
	}
	return evs, true
}

func firstTag(tags map[string][]string, name string) string {
	if vs, ok := tags[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

package model

import (
	"strings"
	"time"
)

// Delivery-outcome event types flowing from the sending workers (Kafka) and
// the SES/SNS feedback webhook.
const (
	EventSent       = "email.sent"
	EventDelivered  = "email.delivered"
	EventBounced    = "email.bounced"
	EventComplained = "email.complained"
	EventOpened     = "email.opened"
	EventClicked    = "email.clicked"
	EventFailed     = "email.failed"
)

const (
	BounceHard = "hard"
	BounceSoft = "soft"
)

// DeliveryEvent is one delivery outcome for an outbox record.
type DeliveryEvent struct {
	OutboxID   string    `json:"outboxId" db:"outbox_id"`
	CompanyID  string    `json:"companyId" db:"company_id"`
	Type       string    `json:"type" db:"event_type"`
	BounceType string    `json:"bounceType,omitempty" db:"bounce_type"` // hard|soft, bounce events only
	Recipient  string    `json:"recipient,omitempty" db:"recipient"`
	OccurredAt time.Time `json:"occurredAt" db:"occurred_at"`
}

// DeliveryCounts are summed delivery outcomes over a period, the input of
// the reputation computation.
type DeliveryCounts struct {
	Sent        int64 `db:"sent"`
	Delivered   int64 `db:"delivered"`
	BouncedHard int64 `db:"bounced_hard"`
	BouncedSoft int64 `db:"bounced_soft"`
	Complained  int64 `db:"complained"`
	Opened      int64 `db:"opened"`
	Clicked     int64 `db:"clicked"`
}

// Bounced returns the total bounce count across hard and soft.
func (c DeliveryCounts) Bounced() int64 {
	return c.BouncedHard + c.BouncedSoft
}

// KnownEventType reports whether t is one of the delivery event types.
func KnownEventType(t string) bool {
	switch t {
	case EventSent, EventDelivered, EventBounced, EventComplained, EventOpened, EventClicked, EventFailed:
		return true
	}
	return false
}

// EventTypeFromSES maps an SES notificationType to an event type.
// Unknown notification types map to ("", false).
func EventTypeFromSES(notificationType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(notificationType)) {
	case "bounce":
		return EventBounced, true
	case "complaint":
		return EventComplained, true
	case "delivery":
		return EventDelivered, true
	default:
		return "", false
	}
}

// TerminalStatusFor maps an event type to the outbox terminal status it
// implies, if any. Engagement events carry no status transition.
func TerminalStatusFor(eventType string) (OutboxStatus, bool) {
	switch eventType {
	case EventSent, EventDelivered:
		return StatusSent, true
	case EventFailed, EventBounced:
		return StatusFailed, true
	default:
		return "", false
	}
}

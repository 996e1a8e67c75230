package model

import (
	"encoding/json"
	"time"
)

// Recipient identifies the primary addressee of a send.
type Recipient struct {
	Email      string `json:"email"`
	ExternalID string `json:"externalId,omitempty"`
}

// EmailJob is the payload enqueued for the sending workers. The job id is
// always the outbox id.
type EmailJob struct {
	OutboxID   string    `json:"outboxId"`
	CompanyID  string    `json:"companyId"`
	RequestID  string    `json:"requestId"`
	To         []string  `json:"to"`
	Cc         []string  `json:"cc,omitempty"`
	Bcc        []string  `json:"bcc,omitempty"`
	Subject    string    `json:"subject"`
	HTMLRef    string    `json:"htmlRef"`
	Recipient  Recipient `json:"recipient"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// WebhookJob is the payload enqueued for outbound notification delivery.
type WebhookJob struct {
	WebhookID string          `json:"webhookId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

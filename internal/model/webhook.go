package model

import (
	"time"

	"github.com/lib/pq"
)

// WebhookEndpoint is a tenant-configured URL receiving delivery notifications.
// Events holds the subscribed event types; empty means all.
type WebhookEndpoint struct {
	ID        string         `db:"id"`
	CompanyID string         `db:"company_id"`
	URL       string         `db:"url"`
	Secret    string         `db:"secret"`
	Events    pq.StringArray `db:"events"`
	Active    bool           `db:"active"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Subscribed reports whether the endpoint wants the given event type.
func (w WebhookEndpoint) Subscribed(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

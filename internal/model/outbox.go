package model

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type OutboxStatus string

const (
	StatusPending  OutboxStatus = "PENDING"
	StatusEnqueued OutboxStatus = "ENQUEUED"
	StatusSent     OutboxStatus = "SENT"
	StatusFailed   OutboxStatus = "FAILED"
)

func (s OutboxStatus) String() string {
	return string(s)
}

func (s OutboxStatus) Valid() bool {
	return s == StatusPending || s == StatusEnqueued || s == StatusSent || s == StatusFailed
}

// Terminal reports whether the record can no longer change state.
func (s OutboxStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// OutboxRecord is the durable intent persisted before enqueueing a send job.
// OutboxID doubles as the job-queue idempotency key.
type OutboxRecord struct {
	OutboxID   string         `db:"outbox_id"`
	CompanyID  string         `db:"company_id"`
	RequestID  string         `db:"request_id"`
	To         pq.StringArray `db:"to_addrs"`
	Cc         pq.StringArray `db:"cc_addrs"`
	Bcc        pq.StringArray `db:"bcc_addrs"`
	Subject    string         `db:"subject"`
	HTMLRef    string         `db:"html_ref"`
	Status     OutboxStatus   `db:"status"`
	Attempt    int            `db:"attempt"`
	JobID      sql.NullString `db:"job_id"`
	EnqueuedAt sql.NullTime   `db:"enqueued_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

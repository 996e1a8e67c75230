// Package kafka wraps the segmentio reader behind the small fetch/commit
// surface the events worker needs. Commits are explicit so a crash between
// fetch and commit replays the message; downstream writes are idempotent.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int
	MaxBytes       int
	CommitInterval time.Duration
	MaxWait        time.Duration
}

func (c Config) readerConfig() kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       c.MinBytes,
		MaxBytes:       c.MaxBytes,
		CommitInterval: c.CommitInterval,
		MaxWait:        c.MaxWait,
	}
	if rc.MinBytes <= 0 {
		rc.MinBytes = 1 << 10
	}
	if rc.MaxBytes <= 0 {
		rc.MaxBytes = 10 << 20
	}
	if rc.CommitInterval <= 0 {
		rc.CommitInterval = time.Second
	}
	if rc.MaxWait <= 0 {
		rc.MaxWait = 50 * time.Millisecond
	}
	return rc
}

type Message = kafka.Message

// Consumer reads the delivery-outcome event stream for the events worker.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(c Config) *Consumer {
	return &Consumer{r: kafka.NewReader(c.readerConfig())}
}

// Fetch blocks for the next message without committing its offset.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

// Commit marks m processed for the consumer group.
func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

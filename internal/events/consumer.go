package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/email-gateway/internal/kafka"
	"github.com/relaypoint/email-gateway/internal/metrics"
	"github.com/relaypoint/email-gateway/internal/model"
)

// Worker:
// - fetches delivery-outcome events from Kafka,
// - fans each event out to tenant webhooks,
// - batches outbox status transitions and analytics inserts (size/time flush).
type Worker struct {
	Consumer *kafka.Consumer
	Service  *Service
	Log      *zap.Logger

	Workers   int           // goroutines parsing and fanning out
	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewWorker(consumer *kafka.Consumer, svc *Service, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Consumer:  consumer,
		Service:   svc,
		Log:       log,
		Workers:   32,
		BatchSize: 200,
		BatchWait: 300 * time.Millisecond,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 32
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}

	// Channel for parsed events → batch writer. The writer drains until the
	// channel closes; its flushes must survive ctx cancellation so buffered
	// events land during shutdown.
	batch := make(chan model.DeliveryEvent, w.BatchSize*2)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.runBatchWriter(context.WithoutCancel(ctx), batch)
	}()

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Error("kafka fetch", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runProcessor(ctx, msgCh, batch)
		}()
	}

	// Processors exit once the fetcher closes msgCh; only then is it safe
	// to close the batch channel and wait for the final flush.
	wg.Wait()
	close(batch)
	<-writerDone
	return nil
}

func (w *Worker) runProcessor(ctx context.Context, in <-chan kafka.Message, out chan<- model.DeliveryEvent) {
	for m := range in {
		w.processOne(ctx, m, out)
	}
}

func (w *Worker) processOne(ctx context.Context, m kafka.Message, out chan<- model.DeliveryEvent) {
	var ev model.DeliveryEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.OutboxID == "" || !model.KnownEventType(ev.Type) {
		// poison → commit, skip
		_ = w.Consumer.Commit(ctx, m)
		if err != nil {
			w.Log.Warn("bad event json", zap.Error(err))
		} else {
			w.Log.Warn("event missing id or unknown type", zap.String("type", ev.Type))
		}
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	metrics.DeliveryEvents.WithLabelValues(ev.Type).Inc()

	// Fanout enqueue is idempotent, safe to run before the batched store writes.
	w.Service.Fanout(ctx, ev)

	out <- ev

	// Always commit (at-least-once; downstream writes tolerate replays).
	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Error("kafka commit", zap.Error(err))
	}
}

// runBatchWriter does size/time-based flush of outbox transitions and
// analytics inserts.
func (w *Worker) runBatchWriter(ctx context.Context, in <-chan model.DeliveryEvent) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var buf []model.DeliveryEvent

	flush := func() {
		if len(buf) == 0 {
			return
		}

		byStatus := make(map[model.OutboxStatus][]string)
		for _, ev := range buf {
			if status, ok := model.TerminalStatusFor(ev.Type); ok {
				byStatus[status] = append(byStatus[status], ev.OutboxID)
			}
		}

		if err := w.Service.ApplyStatuses(ctx, byStatus); err != nil {
			w.Log.Error("apply outbox statuses", zap.Error(err))
			// keep going: analytics rows are still worth landing
		}
		if err := w.Service.chEvents.InsertBatch(ctx, buf); err != nil {
			w.Log.Error("insert event batch", zap.Error(err))
		} else {
			w.Log.Info("flushed event batch", zap.Int("events", len(buf)))
		}

		buf = buf[:0]
	}

	for {
		select {
		case ev, ok := <-in:
			if !ok {
				flush()
				return
			}
			buf = append(buf, ev)
			if len(buf) >= w.BatchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}

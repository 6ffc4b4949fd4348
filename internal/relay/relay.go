// Package relay forwards ticket outbox events to the message broker in seq
// order, remembering how far it got per consumer.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qms/registrar-queue/internal/store"
)

const DefaultConsumer = "amqp-relay"

// Source is the outbox side of a ticket store.
type Source interface {
	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error)
	GetRelayOffset(ctx context.Context, consumer string) (int64, error)
	UpdateRelayOffset(ctx context.Context, consumer string, seq int64) error
}

type Publisher interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
}

type Config struct {
	BatchSize int
	Consumer  string
}

type Worker struct {
	source    Source
	publisher Publisher
	batchSize int
	consumer  string
	logger    *slog.Logger
}

func New(source Source, publisher Publisher, cfg Config, logger *slog.Logger) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = DefaultConsumer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source:    source,
		publisher: publisher,
		batchSize: batch,
		consumer:  consumer,
		logger:    logger,
	}
}

// Run relays one batch. It stops at the first event the broker refuses so
// later events are never delivered ahead of it, and returns how many events
// were relayed.
func (w *Worker) Run(ctx context.Context) (int, error) {
	last, err := w.source.GetRelayOffset(ctx, w.consumer)
	if err != nil {
		return 0, err
	}

	events, err := w.source.ListOutboxEvents(ctx, last, w.batchSize)
	if err != nil {
		return 0, err
	}

	relayed := 0
	var publishErr error
	for _, event := range events {
		if err := w.publisher.Publish(ctx, event); err != nil {
			publishErr = fmt.Errorf("publish event %d (%s): %w", event.Seq, event.Type, err)
			break
		}
		eventsRelayed.WithLabelValues(event.Type).Inc()
		last = event.Seq
		relayed++
	}

	if relayed > 0 {
		if err := w.source.UpdateRelayOffset(ctx, w.consumer, last); err != nil {
			return relayed, err
		}
	}
	return relayed, publishErr
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Run(ctx); err != nil {
				relayFailures.Inc()
				w.logger.Error("outbox relay failed", "consumer", w.consumer, "error", err)
			}
		}
	}
}

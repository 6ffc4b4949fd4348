// Package projector serves the queue status summary from a Redis read-through
// cache and announces summary changes to display subscribers.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"qms/registrar-queue/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	StatusKey     = "registrar:queue_status"
	VersionKey    = "registrar:queue_status:version"
	ChangeChannel = "registrar:queue_status:changed"

	DefaultTTL = 5 * time.Second
)

// Source is the authoritative summary, normally the ticket store.
type Source interface {
	GetQueueStatus(ctx context.Context) ([]models.QueueStatus, error)
}

type Projector struct {
	client *redis.Client
	source Source
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a Projector. A nil client disables caching and every read goes
// to source.
func New(client *redis.Client, source Source, ttl time.Duration, logger *slog.Logger) *Projector {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{client: client, source: source, ttl: ttl, logger: logger}
}

// Status serves the summary cached under the current version. A miss fills
// that version's entry; a summary read before a concurrent Publish lands under
// the superseded version and is never served.
func (p *Projector) Status(ctx context.Context) ([]models.QueueStatus, error) {
	if p.client == nil {
		return p.source.GetQueueStatus(ctx)
	}

	version, err := p.client.Get(ctx, VersionKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		version = "0"
	case err != nil:
		cacheReads.WithLabelValues("error").Inc()
		p.logger.Warn("queue status cache unavailable", "error", err)
		return p.source.GetQueueStatus(ctx)
	}
	key := EntryKey(version)

	cached, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var statuses []models.QueueStatus
		if err := json.Unmarshal([]byte(cached), &statuses); err == nil {
			cacheReads.WithLabelValues("hit").Inc()
			return statuses, nil
		}
		p.logger.Warn("discarding unreadable queue status cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		cacheReads.WithLabelValues("error").Inc()
		p.logger.Warn("queue status cache unavailable", "error", err)
		return p.source.GetQueueStatus(ctx)
	}

	cacheReads.WithLabelValues("miss").Inc()
	statuses, err := p.source.GetQueueStatus(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(statuses)
	if err != nil {
		return nil, err
	}
	if err := p.client.Set(ctx, key, string(body), p.ttl).Err(); err != nil {
		p.logger.Warn("queue status cache write failed", "error", err)
	}
	return statuses, nil
}

// Publish moves the cache to a new version and notifies subscribers that
// queueType moved. Entries under older versions expire with their TTL.
func (p *Projector) Publish(ctx context.Context, queueType models.ServiceType) error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Incr(ctx, VersionKey).Err(); err != nil {
		return err
	}
	return p.client.Publish(ctx, ChangeChannel, string(queueType)).Err()
}

// EntryKey is the cache key holding the summary for a version.
func EntryKey(version string) string {
	return StatusKey + ":" + version
}

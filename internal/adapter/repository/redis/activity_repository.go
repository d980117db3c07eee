package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var (
	_ domain.ActivityPublisher = (*ActivityRepository)(nil)
	_ domain.ActivityReader    = (*ActivityRepository)(nil)
)

// ActivityRepository records lifecycle events in a capped global Redis
// stream and a capped per-tenant stream, and reads them back newest first.
type ActivityRepository struct {
	client *redis.Client
	logger *slog.Logger
	stream string
	maxLen int64
}

func NewActivityRepository(client *redis.Client, logger *slog.Logger, stream string, maxLen int64) *ActivityRepository {
	return &ActivityRepository{
		client: client,
		logger: logger.With("component", "redis_activity_repository"),
		stream: stream,
		maxLen: maxLen,
	}
}

func (r *ActivityRepository) Publish(ctx context.Context, event domain.ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal activity event: %w", err)
	}

	values := map[string]any{"type": string(event.Type), "payload": payload}
	pipe := r.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{Stream: r.stream, MaxLen: r.maxLen, Approx: true, Values: values})
	if event.PlaceID != "" {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: placeStreamKey(r.stream, event.PlaceID), MaxLen: r.maxLen, Approx: true, Values: values})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to XADD activity event: %w", err)
	}
	return nil
}

func (r *ActivityRepository) Recent(ctx context.Context, placeID string, count int64) ([]domain.ActivityEvent, error) {
	if count <= 0 {
		count = 50
	}
	stream := r.stream
	if placeID != "" {
		stream = placeStreamKey(r.stream, placeID)
	}

	msgs, err := r.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity stream %s: %w", stream, err)
	}

	events := make([]domain.ActivityEvent, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			r.logger.Warn("Invalid activity message, skipping", "message_id", msg.ID)
			continue
		}
		var ev domain.ActivityEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			r.logger.Warn("Failed to decode activity message, skipping", "message_id", msg.ID, "error", err)
			continue
		}
		ev.ID = msg.ID
		events = append(events, ev)
	}
	return events, nil
}

package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes updates as JSON on a Redis pub/sub channel and keeps the
// latest update per target in a hash for late subscribers.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
}

// LatestKey is the hash holding the latest update per target key.
const LatestKey = "obsync:status:latest"

func NewRedisBus(client redis.UniversalClient, channel string) *RedisBus {
	if channel == "" {
		channel = "obsync.status"
	}
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, update Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	pipe := b.client.TxPipeline()
	pipe.Publish(ctx, b.channel, payload)
	pipe.HSet(ctx, LatestKey, update.Target.Key(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status to redis: %w", err)
	}
	return nil
}

package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nainya/cfgstore/internal/metrics"
)

type redisTransport struct {
	client  *redis.Client
	channel string
}

func (r *redisTransport) Name() string { return "redis" }

func (r *redisTransport) Send(ctx context.Context, _ string, body []byte) error {
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

func (r *redisTransport) Close() error {
	return r.client.Close()
}

// NewRedisPublisher publishes events on a pub/sub channel. The publisher
// owns client and closes it.
func NewRedisPublisher(client *redis.Client, channel string, log zerolog.Logger, m *metrics.Metrics) *Publisher {
	return newPublisher(&redisTransport{client: client, channel: channel}, log, m, 0)
}

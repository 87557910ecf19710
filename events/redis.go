package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"go.uber.org/zap"
)

// RedisPublisher fans out events over Redis pub/sub, which matches the
// no-replay contract exactly: only currently connected subscribers receive
// a published message.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a publisher on an existing Redis client. The
// client may be shared with the session store.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	metrics.EventsPublished.WithLabelValues(p.Type()).Inc()
	return nil
}

func (p *RedisPublisher) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	pubsub := p.client.Subscribe(ctx, channel)

	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message, subscriberBuffer)
	go func() {
		defer close(messages)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					p.logger.Warn("dropping undecodable event",
						zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case messages <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

func (p *RedisPublisher) Type() string { return "redis" }

// Close is a no-op: the Redis client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }

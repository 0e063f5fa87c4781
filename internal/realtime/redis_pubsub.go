package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// UpdatesChannel is the Redis channel carrying poll updates between instances.
const UpdatesChannel = "polls:updates"

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Poll json.RawMessage `json:"poll"`
	At   int64           `json:"at"`
}

// RedisPubSub implements RedisPublisher using Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for poll updates.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishPollUpdate publishes an encoded poll.
func (r *RedisPubSub) PublishPollUpdate(ctx context.Context, payload []byte) error {
	body, err := json.Marshal(redisPayload{Poll: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, UpdatesChannel, body).Err()
}

// Subscribe listens on UpdatesChannel and calls handler with each encoded
// poll. The returned cancel stops the subscription.
func (r *RedisPubSub) Subscribe(handler func(payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, UpdatesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("malformed poll update on redis", zap.Error(err))
					continue
				}
				handler(p.Poll)
			}
		}
	}()
	return cancelCtx, nil
}

// Bridge attaches r to hub: publishes go through Redis and every message
// received on the channel is delivered to the hub's local subscribers.
func Bridge(hub *Hub, r *RedisPubSub) (cancel func(), err error) {
	cancel, err = r.Subscribe(hub.deliverEncoded)
	if err != nil {
		return nil, err
	}
	hub.SetRedis(r)
	return cancel, nil
}

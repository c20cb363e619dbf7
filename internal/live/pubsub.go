// Package live streams check-in notifications to staff dashboards over
// websockets, fanned out across instances via Redis pub/sub.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "event:"
	publishTTL    = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub bridges event notifications across service instances.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// Publish sends an event notification to the event's Redis channel.
func (r *RedisPubSub) Publish(eventID uuid.UUID, event string, payload []byte) error {
	channel := channelPrefix + eventID.String()
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// Subscribe listens on an event's Redis channel and calls handler for each
// message. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) Subscribe(eventID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + eventID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
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
					continue
				}
				handler(p.Event, p.Data)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}

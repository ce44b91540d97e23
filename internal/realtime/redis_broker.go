package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "ironwill:realtime"

type envelope struct {
	UserID  string  `json:"user_id"`
	Message Message `json:"message"`
}

// RedisBroker fans messages out to every replica subscribed to the channel.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisBroker(rdb *redis.Client, channel string, logger *zap.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroker{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, userID string, msg Message) error {
	raw, err := json.Marshal(envelope{UserID: userID, Message: msg})
	if err != nil {
		return fmt.Errorf("encode realtime envelope: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Run delivers every message on the channel to hub until ctx is done.
func (b *RedisBroker) Run(ctx context.Context, hub *Hub) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("Realtime broker subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.logger.Warn("Dropping malformed realtime envelope", zap.Error(err))
				continue
			}
			hub.Broadcast(env.UserID, env.Message)
		}
	}
}

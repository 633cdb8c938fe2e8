package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
)

// DefaultChannel is the Redis channel events are exchanged on.
const DefaultChannel = "rapidcare:events"

// PubSubClient is the subset of *redis.Client the bridge needs.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBridge publishes events to a Redis channel and relays every message
// received on that channel into the local hub. With the bridge in place,
// services publish only through it so each replica delivers an event once.
type RedisBridge struct {
	client  PubSubClient
	channel string
	hub     *Hub
	logger  zerolog.Logger
}

func NewRedisBridge(client PubSubClient, channel string, hub *Hub, logger zerolog.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger.With().Str("component", "redis_bridge").Logger(),
	}
}

// Publish sends ev to every replica, including this one. When Redis refuses
// the message, clients connected to this replica still get it from the local
// hub and the upstream error is returned.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.hub.Deliver(ev)
		return apperr.Upstream("redis publish", err)
	}
	return nil
}

// Run relays channel messages into the hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return apperr.Upstream("redis subscribe", err)
	}
	b.logger.Info().Str("channel", b.channel).Msg("relaying events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *RedisBridge) relay(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn().Err(err).Msg("discarding malformed event")
		return
	}
	b.hub.Deliver(ev)
}

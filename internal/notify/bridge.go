package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Workers run in separate processes from the hub, so events cross over Redis
// pub/sub: workers publish to taskupdate:<clientID> and the server-side
// bridge forwards into the in-process hub.
const eventChannelPrefix = "taskupdate:"

// RedisPublisher is the worker-side event sender.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Notify publishes an event for the client. Delivery is best effort: with no
// subscribed bridge the message evaporates, which matches send-to-absent
// being a no-op.
func (p *RedisPublisher) Notify(ctx context.Context, clientID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, eventChannelPrefix+clientID, payload).Err(); err != nil {
		return fmt.Errorf("publish event for %s: %w", clientID, err)
	}
	return nil
}

// Bridge subscribes to every client event channel and forwards into the hub.
type Bridge struct {
	rdb    *redis.Client
	hub    *Hub
	logger zerolog.Logger
}

func NewBridge(rdb *redis.Client, hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{rdb: rdb, hub: hub, logger: logger}
}

// Run blocks forwarding events until the context is cancelled. It is meant
// to live in its own goroutine next to the HTTP server.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.rdb.PSubscribe(ctx, eventChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	b.logger.Info().Str("pattern", eventChannelPrefix+"*").Msg("Notification bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Notification bridge stopping")
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn().Msg("Notification bridge pubsub closed")
				return
			}
			clientID := strings.TrimPrefix(msg.Channel, eventChannelPrefix)
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Error().Err(err).Str("client_id", clientID).Msg("Malformed push event")
				continue
			}
			b.hub.Send(clientID, ev)
		}
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers gamification events. Implementations must treat
// delivery as fire-and-forget: a failed publish is the dispatcher's problem
// to log, never the caller's to handle.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Envelope)
}

// channelPrefix namespaces the per-user pub/sub channels.
const channelPrefix = "gamification:events:"

// RedisDispatcher publishes events to a per-user Redis pub/sub channel the
// journal's notification gateway subscribes to.
type RedisDispatcher struct {
	client *redis.Client
}

// NewRedisDispatcher creates a new RedisDispatcher instance.
func NewRedisDispatcher(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client}
}

// Dispatch publishes the event. Failures are logged and dropped.
func (d *RedisDispatcher) Dispatch(ctx context.Context, e Envelope) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type).Msg("Failed to encode event")
		return
	}

	channel := fmt.Sprintf("%s%d", channelPrefix, e.UserID)
	if err := d.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Error().
			Err(err).
			Str("type", e.Type).
			Int64("user_id", e.UserID).
			Msg("Failed to publish event")
	}
}

// LogDispatcher writes events to the structured log. Used when Redis is not
// configured and as a development sink.
type LogDispatcher struct{}

// NewLogDispatcher creates a new LogDispatcher instance.
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

// Dispatch logs the event.
func (d *LogDispatcher) Dispatch(_ context.Context, e Envelope) {
	log.Info().
		Str("event_id", e.ID.String()).
		Str("type", e.Type).
		Int64("user_id", e.UserID).
		Interface("payload", e.Payload).
		Msg("Gamification event")
}

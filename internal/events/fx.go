package events

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher pushes events to Redis when a client is configured. Without
// Redis there is no consumer, so events are only logged.
func NewPublisher(client *redis.Client, log *zap.Logger) Publisher {
	if client == nil {
		log.Info("redis not configured, events are logged only")
		return NewLogPublisher(log)
	}
	return NewRedisPublisher(client, DefaultRedisKey)
}

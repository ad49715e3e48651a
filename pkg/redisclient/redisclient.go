// Package redisclient provides the shared go-redis client. A blank address
// yields a nil client and callers fall back to in-process implementations.
package redisclient

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

var Module = fx.Module("redis",
	fx.Provide(New),
)

func New(lc fx.Lifecycle, cfg Config, log *zap.Logger) *redis.Client {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		log.Info("redis disabled, using in-process rate limiting and events")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Password),
		DB:       cfg.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

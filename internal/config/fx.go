package config

import (
	"github.com/smallbiznis/edupass/pkg/db"
	"github.com/smallbiznis/edupass/pkg/redisclient"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
	fx.Provide(func(cfg Config) db.Config { return cfg.Database() }),
	fx.Provide(func(cfg Config) redisclient.Config {
		return redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}),
)

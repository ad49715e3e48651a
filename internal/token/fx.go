package token

import (
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("token.codec",
	fx.Provide(func(cfg config.Config) (*Keyring, error) {
		return ParseKeyring(cfg.TokenSigningKeys)
	}),
	fx.Provide(func(k *Keyring, clk clock.Clock, cfg config.Config) *Codec {
		return NewCodec(k, clk, cfg.TokenIssuer)
	}),
)

package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/edupass/internal/config"
	"go.uber.org/zap"
)

const keyRedeemActor = "edupass:redeem:actor:%s"

// RedeemLimiter throttles check-in attempts per actor so a scanner cannot be
// used to brute-force tokens.
type RedeemLimiter struct {
	enabled bool
	log     *zap.Logger

	bucket *TokenBucket
	local  *LocalBuckets

	rate  float64
	burst int
}

func NewRedeemLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *RedeemLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || limitCfg.RedeemRate <= 0 || limitCfg.RedeemBurst <= 0 {
		return &RedeemLimiter{}
	}
	return &RedeemLimiter{
		enabled: true,
		log:     log.Named("ratelimit"),
		bucket:  NewTokenBucket(client),
		local:   NewLocalBuckets(),
		rate:    limitCfg.RedeemRate,
		burst:   limitCfg.RedeemBurst,
	}
}

func (l *RedeemLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes one attempt for actorID. When Redis is unreachable the
// limiter degrades to per-process buckets instead of failing requests.
func (l *RedeemLimiter) Allow(ctx context.Context, actorID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyRedeemActor, strings.TrimSpace(actorID))

	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
		if err == nil {
			return res, nil
		}
		l.log.Warn("redis rate limit failed, using local bucket", zap.Error(err))
	}
	return l.local.Allow(key, l.rate, l.burst)
}

package ratelimit

import (
	"context"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ecopoints/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyActivityLog = "ecopoints:ratelimit:activity:"

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// ActivityLimiter caps activity logging per user. A nil limiter allows
// everything.
type ActivityLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

// NewActivityLimiter returns nil when no rate is configured or redis is
// unavailable.
func NewActivityLimiter(p Params) *ActivityLimiter {
	cfg := p.Config.RateLimit
	if cfg.ActivityRate <= 0 || cfg.ActivityBurst <= 0 || p.Client == nil {
		return nil
	}
	return &ActivityLimiter{
		bucket: NewTokenBucket(p.Client),
		log:    p.Log.Named("ratelimit"),
		rate:   cfg.ActivityRate,
		burst:  cfg.ActivityBurst,
	}
}

func (l *ActivityLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open: a redis error is logged and the call goes through.
func (l *ActivityLimiter) Allow(ctx context.Context, userID snowflake.ID) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	res, err := l.bucket.Allow(ctx, keyActivityLog+userID.String(), l.rate, l.burst)
	if err != nil {
		l.log.Warn("ratelimit.activity.unavailable", zap.Error(err))
		return Result{Allowed: true, Limit: l.burst}
	}
	return res
}

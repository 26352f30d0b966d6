package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNilLimiterAllows(t *testing.T) {
	var l *ActivityLimiter
	assert.False(t, l.Enabled())
	assert.True(t, l.Allow(context.Background(), 1).Allowed)
}

func TestNewActivityLimiterNeedsRateAndClient(t *testing.T) {
	assert.Nil(t, NewActivityLimiter(Params{Config: config.Config{}, Log: zap.NewNop()}))

	cfg := config.Config{RateLimit: config.RateLimitConfig{ActivityRate: 1, ActivityBurst: 5}}
	assert.Nil(t, NewActivityLimiter(Params{Config: cfg, Log: zap.NewNop()}))

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	l := NewActivityLimiter(Params{Config: cfg, Log: zap.NewNop(), Client: client})
	assert.True(t, l.Enabled())
}

func TestTokenBucketValidation(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, NewTokenBucket(nil))

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	bucket := NewTokenBucket(client)

	_, err = bucket.Allow(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = bucket.Allow(context.Background(), "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestScriptReplyParsing(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(3), toInt("3"))
	assert.InDelta(t, 2.5, toFloat("2.5"), 1e-9)
	assert.InDelta(t, 4.0, toFloat(int64(4)), 1e-9)
	assert.Zero(t, toFloat(nil))
}

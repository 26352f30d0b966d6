// Package lock provides a redis-backed mutex used to elect one instance for
// cluster-wide periodic work.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ecopoints/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrNotConfigured = errors.New("lock client not configured")
	ErrEmptyKey      = errors.New("lock key is empty")
	ErrInvalidTTL    = errors.New("lock ttl must be positive")
)

type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// Enabled reports whether the locker is backed by redis. A nil Locker is
// valid and disabled.
func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// TryLock acquires key for ttl. The returned token must be passed to Release.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees key only if it is still held with token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// NewClient returns nil when no redis address is configured.
func NewClient(p Params) *redis.Client {
	addr := strings.TrimSpace(p.Config.RedisAddr)
	if addr == "" {
		p.Log.Named("lock").Info("lock.redis.disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Config.RedisPassword),
		DB:       p.Config.RedisDB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

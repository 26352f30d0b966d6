package lock

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNilLockerIsDisabled(t *testing.T) {
	var l *Locker
	assert.False(t, l.Enabled())
	assert.Nil(t, NewLocker(nil))

	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}

func TestTryLockValidatesArguments(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	l := NewLocker(client)
	assert.True(t, l.Enabled())

	_, _, err := l.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	assert.NoError(t, l.Release(context.Background(), "", ""))
}

func TestNewClientWithoutAddress(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	client := NewClient(Params{Lifecycle: lc, Config: config.Config{}, Log: zap.NewNop()})
	assert.Nil(t, client)
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/testutil"
	"github.com/smallbiznis/ecopoints/internal/user/domain"
	"github.com/smallbiznis/ecopoints/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) domain.Service {
	t.Helper()
	conn := testutil.OpenDB(t, &domain.User{})
	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreateAndGet(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateUserRequest{
		Email:       "  Ada@Example.com ",
		DisplayName: "Ada",
		CountryCode: "gb",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.Equal(t, "GB", created.CountryCode)
	assert.Zero(t, created.CurrentStreak)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Ada", got.DisplayName)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateUserRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.Create(ctx, domain.CreateUserRequest{Email: strings.Repeat("a", 320) + "@example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.Create(ctx, domain.CreateUserRequest{Email: "a@example.com", CountryCode: "GBR"})
	assert.ErrorIs(t, err, domain.ErrInvalidCountry)
}

func TestCreateDuplicateEmail(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateUserRequest{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateUserRequest{Email: "A@example.com"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestGetUnknownUser(t *testing.T) {
	svc := newService(t)
	_, err := svc.Get(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Get(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

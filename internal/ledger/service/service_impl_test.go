package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/ledger/repository"
	"github.com/smallbiznis/ecopoints/internal/testutil"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	userrepository "github.com/smallbiznis/ecopoints/internal/user/repository"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	node  *snowflake.Node
	clock *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.OpenDB(t, &userdomain.User{}, &domain.Entry{}, &domain.Balance{})
	node := testutil.Node(t)
	fake := clock.NewFakeClock(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return &fixture{db: conn, svc: svc, node: node, clock: fake}
}

func (f *fixture) createUser(t *testing.T) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	user := userdomain.User{
		ID:        f.node.Generate(),
		Email:     f.node.Generate().String() + "@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, userrepository.Provide().Insert(context.Background(), f.db, &user))
	return user.ID
}

func TestAwardSpendScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	award, err := f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 50, Reason: "bike"})
	require.NoError(t, err)
	assert.Equal(t, int64(50), award.Entry.BalanceAfter)
	assert.Equal(t, int64(1), award.Entry.Sequence)

	balance, err := f.svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	spent, err := f.svc.Spend(ctx, domain.SpendRequest{UserID: userID, Amount: 30, Reason: "redeem"})
	require.NoError(t, err)
	assert.Equal(t, int64(-30), spent.Delta)
	assert.Equal(t, int64(20), spent.BalanceAfter)

	_, err = f.svc.Spend(ctx, domain.SpendRequest{UserID: userID, Amount: 30, Reason: "redeem"})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, err = f.svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	history, err := f.svc.History(ctx, domain.HistoryRequest{UserID: userID})
	require.NoError(t, err)
	require.Len(t, history.Entries, 2)
	assert.Equal(t, int64(-30), history.Entries[0].Delta)
	assert.Equal(t, int64(50), history.Entries[1].Delta)

	rec, err := f.svc.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.Equal(t, int64(2), rec.EntryCount)
}

func TestAwardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	_, err := f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 0, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Spend(ctx, domain.SpendRequest{UserID: userID, Amount: -5, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 10, Reason: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidReason)

	_, err = f.svc.Award(ctx, domain.AwardRequest{UserID: f.node.Generate(), Amount: 10, Reason: "bike"})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.svc.Balance(ctx, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestBalanceOfUserWithoutEntries(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t)

	balance, err := f.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestAwardIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	req := domain.AwardRequest{UserID: userID, Amount: 50, Reason: "7-day streak milestone", IdempotencyKey: "streak:1:7:2024-01-01"}
	first, err := f.svc.Award(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.Award(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	balance, err := f.svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestAwardTxRollsBackToSavepoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.AwardTx(ctx, tx, domain.AwardRequest{UserID: f.node.Generate(), Amount: 10, Reason: "ghost"})
		assert.ErrorIs(t, err, domain.ErrUserNotFound)

		res, err := f.svc.AwardTx(ctx, tx, domain.AwardRequest{UserID: userID, Amount: 10, Reason: "bonus"})
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.Entry.BalanceAfter)
		return nil
	})
	require.NoError(t, err)

	balance, err := f.svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	_, err := f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 100, Reason: "seed"})
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Spend(ctx, domain.SpendRequest{UserID: userID, Amount: 30, Reason: "redeem"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, workers-3, rejected)

	balance, err := f.svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	rec, err := f.svc.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
}

func TestRedeemReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	_, err := f.svc.RedeemReward(ctx, domain.RedeemRequest{UserID: userID, RewardID: "tree", RewardName: "Plant a tree", Cost: 10})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 25, Reason: "bike"})
	require.NoError(t, err)

	entry, err := f.svc.RedeemReward(ctx, domain.RedeemRequest{UserID: userID, RewardID: "tree", RewardName: "Plant a tree", Cost: 10})
	require.NoError(t, err)
	assert.Equal(t, "Redeemed: Plant a tree", entry.Reason)
	assert.Equal(t, int64(15), entry.BalanceAfter)
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	for i := 1; i <= 5; i++ {
		_, err := f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: int64(i), Reason: "activity"})
		require.NoError(t, err)
	}

	page, err := f.svc.History(ctx, domain.HistoryRequest{UserID: userID, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(5), page.Entries[0].Sequence)

	next, err := f.svc.History(ctx, domain.HistoryRequest{UserID: userID, Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Entries, 2)
	assert.Equal(t, int64(3), next.Entries[0].Sequence)
}

func TestPointsBetween(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t)

	_, err := f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 40, Reason: "bike"})
	require.NoError(t, err)
	f.clock.Advance(10 * 24 * time.Hour)
	_, err = f.svc.Award(ctx, domain.AwardRequest{UserID: userID, Amount: 5, Reason: "walk"})
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC)
	total, err := f.svc.PointsBetween(ctx, userID, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
}

package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/ecopoints/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/ecopoints/internal/ledger/service"
	"github.com/smallbiznis/ecopoints/internal/testutil"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	userrepository "github.com/smallbiznis/ecopoints/internal/user/repository"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type failingLedger struct {
	mock.Mock
	ledgerdomain.Service
}

func (m *failingLedger) Award(ctx context.Context, req ledgerdomain.AwardRequest) (ledgerdomain.AwardResult, error) {
	args := m.Called(ctx, req)
	return ledgerdomain.AwardResult{}, args.Error(0)
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	ledger ledgerdomain.Service
	queue  *jobqueue.Queue
	clock  *clock.FakeClock
	user   snowflake.ID
}

func newFixture(t *testing.T, ledger ledgerdomain.Service) *fixture {
	t.Helper()
	conn := testutil.OpenDB(t,
		&userdomain.User{},
		&ledgerdomain.Entry{},
		&ledgerdomain.Balance{},
		&Activity{},
		&jobqueue.Job{},
	)
	node := testutil.Node(t)
	fake := clock.NewFakeClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	users := userrepository.Provide()
	if ledger == nil {
		ledger = ledgerservice.New(ledgerservice.Params{
			DB:    conn,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: fake,
			Repo:  ledgerrepository.Provide(),
		})
	}
	queue := jobqueue.New(jobqueue.Params{DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Config: config.Config{}})

	user := userdomain.User{ID: node.Generate(), Email: "grace@example.com", CreatedAt: fake.Now(), UpdatedAt: fake.Now()}
	require.NoError(t, users.Insert(context.Background(), conn, &user))

	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Repo:    NewRepository(),
		Users:   users,
		Catalog: emission.NewStaticCatalog(emission.DefaultFactors()),
		Ledger:  ledger,
		Rules:   config.NewStaticGamificationHolder(config.DefaultGamificationConfig()),
		Queue:   queue,
	})
	return &fixture{db: conn, svc: svc, ledger: ledger, queue: queue, clock: fake, user: user.ID}
}

func TestMatchRule(t *testing.T) {
	rules := config.DefaultGamificationConfig().PointRules

	tests := []struct {
		name     string
		activity string
		details  emission.Details
		points   int64
	}{
		{"bike", "commute", emission.Details{"mode": "bike"}, 50},
		{"walk upper case", "Commute", emission.Details{"mode": "WALK"}, 50},
		{"train", "commute", emission.Details{"mode": "train"}, 20},
		{"ev", "commute", emission.Details{"mode": "electric_car"}, 10},
		{"car earns nothing", "commute", emission.Details{"mode": "car"}, 0},
		{"vegan meal", "food", emission.Details{"type": "vegan"}, 20},
		{"beef earns nothing", "food", emission.Details{"type": "beef"}, 0},
		{"electricity", "electricity", emission.Details{"kwh": 3}, 5},
		{"other activity", "recycling", nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := MatchRule(rules, tt.activity, tt.details)
			require.True(t, ok)
			assert.Equal(t, tt.points, rule.Points)
		})
	}

	_, ok := MatchRule([]config.PointRule{{ActivityType: "food", Points: 1}}, "commute", nil)
	assert.False(t, ok)
}

func TestLogAwardsPointsAndQueuesProcessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.svc.Log(ctx, LogRequest{
		UserID:       f.user,
		ActivityType: "commute",
		Details:      emission.Details{"mode": "bike", "distance": 8.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), item.PointsAwarded)
	assert.Zero(t, item.Co2Kg)
	assert.True(t, item.ActivityDate.Equal(testutil.Date(2024, 3, 6)))

	balance, err := f.ledger.Balance(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	stored, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(50), stored.PointsAwarded)
	assert.JSONEq(t, `{"mode":"bike","distance":8}`, string(stored.Details))

	job, err := f.queue.Lease(ctx, jobqueue.QueueActivities, "w")
	require.NoError(t, err)
	require.NotNil(t, job)
	payload, err := jobs.Decode(*job)
	require.NoError(t, err)
	assert.Equal(t, jobs.ProcessActivity{ActivityID: item.ID, UserID: f.user}, payload)
}

func TestLogWithoutMatchingPoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.svc.Log(ctx, LogRequest{
		UserID:       f.user,
		ActivityType: "commute",
		Details:      emission.Details{"mode": "car", "distance": 10.0},
		ActivityDate: time.Date(2024, 3, 4, 18, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Zero(t, item.PointsAwarded)
	assert.InDelta(t, 1.92, item.Co2Kg, 1e-9)
	assert.True(t, item.ActivityDate.Equal(testutil.Date(2024, 3, 4)))

	balance, err := f.ledger.Balance(ctx, f.user)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLogSurvivesAwardFailure(t *testing.T) {
	ledger := &failingLedger{}
	ledger.On("Award", mock.Anything, mock.Anything).Return(errors.New("db unavailable")).Once()
	f := newFixture(t, ledger)

	item, err := f.svc.Log(context.Background(), LogRequest{
		UserID:       f.user,
		ActivityType: "electricity",
		Details:      emission.Details{"kwh": 10.0, "countryCode": "GB"},
	})
	require.NoError(t, err)
	assert.Zero(t, item.PointsAwarded)
	assert.InDelta(t, 2.33, item.Co2Kg, 1e-9)

	stored, err := f.svc.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
	ledger.AssertExpectations(t)
}

func TestLogValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Log(ctx, LogRequest{ActivityType: "commute"})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = f.svc.Log(ctx, LogRequest{UserID: f.user, ActivityType: "  "})
	assert.ErrorIs(t, err, ErrInvalidActivityType)

	_, err = f.svc.Log(ctx, LogRequest{UserID: snowflake.ID(12345), ActivityType: "food"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	stats, err := f.queue.Stats(ctx, jobqueue.QueueActivities)
	require.NoError(t, err)
	assert.Zero(t, stats[jobqueue.StatusQueued], "rejected activities queue nothing")
}

func TestListAndAggregate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for day := 4; day <= 6; day++ {
		_, err := f.svc.Log(ctx, LogRequest{
			UserID:       f.user,
			ActivityType: "food",
			Details:      emission.Details{"type": "chicken", "weight": 1.0},
			ActivityDate: testutil.Date(2024, 3, day),
		})
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, ListRequest{UserID: f.user, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, page.Activities, 2)
	assert.True(t, page.HasMore)

	rest, err := f.svc.List(ctx, ListRequest{UserID: f.user, Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, rest.Activities, 1)

	co2, count, err := f.svc.Aggregate(ctx, f.user, testutil.Date(2024, 3, 5), testutil.Date(2024, 3, 6).Add(24*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.InDelta(t, 12.2, co2, 1e-9)
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/ecopoints/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/ecopoints/internal/ledger/service"
	"github.com/smallbiznis/ecopoints/internal/notifier"
	"github.com/smallbiznis/ecopoints/internal/providers/email"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"github.com/smallbiznis/ecopoints/internal/testutil"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	userrepository "github.com/smallbiznis/ecopoints/internal/user/repository"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type captureProvider struct {
	err  error
	sent []email.Message
}

func (p *captureProvider) Send(_ context.Context, msg email.Message) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *captureProvider) Configured() bool { return true }

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	queue      *jobqueue.Queue
	activities *activity.Service
	handler    *Handler
	pool       *Pool
	provider   *captureProvider
	user       snowflake.ID
}

func newFixture(t *testing.T, emailsEnabled bool) *fixture {
	t.Helper()
	conn := testutil.OpenDB(t,
		&userdomain.User{},
		&ledgerdomain.Entry{},
		&ledgerdomain.Balance{},
		&activity.Activity{},
		&summary.WeeklySummary{},
		&jobqueue.Job{},
	)
	node := testutil.Node(t)
	fake := clock.NewFakeClock(time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		FrontendURL:         "https://app.example.com",
		WeeklyEmailsEnabled: emailsEnabled,
		Queue:               config.QueueConfig{MaxAttempts: 3, LeaseTimeout: time.Minute, BackoffInitial: time.Second, BackoffMax: time.Minute},
		Worker:              config.WorkerConfig{JobTimeout: 5 * time.Second},
	}
	users := userrepository.Provide()
	ledger := ledgerservice.New(ledgerservice.Params{DB: conn, Log: log, GenID: node, Clock: fake, Repo: ledgerrepository.Provide()})
	queue := jobqueue.New(jobqueue.Params{DB: conn, Log: log, GenID: node, Clock: fake, Config: cfg})
	activities := activity.New(activity.Params{
		DB:      conn,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		Repo:    activity.NewRepository(),
		Users:   users,
		Catalog: emission.NewStaticCatalog(emission.DefaultFactors()),
		Ledger:  ledger,
		Rules:   config.NewStaticGamificationHolder(config.DefaultGamificationConfig()),
		Queue:   queue,
	})
	summaries := summary.New(summary.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Users: users, Activity: activities, Points: ledger,
	})
	provider := &captureProvider{}
	notify := notifier.New(notifier.Params{DB: conn, Log: log, Config: cfg, Users: users, Provider: provider})

	handler := NewHandler(HandlerParams{
		Log:        log,
		Config:     cfg,
		Clock:      fake,
		Queue:      queue,
		Activities: activities,
		Summaries:  summaries,
		Notifier:   notify,
	})
	pool := New(Params{Log: log, Config: cfg, Queue: queue, Handler: handler})

	user := userdomain.User{ID: node.Generate(), Email: "ada@example.com", DisplayName: "Ada", CreatedAt: fake.Now(), UpdatedAt: fake.Now()}
	require.NoError(t, users.Insert(context.Background(), conn, &user))

	return &fixture{
		db:         conn,
		clock:      fake,
		queue:      queue,
		activities: activities,
		handler:    handler,
		pool:       pool,
		provider:   provider,
		user:       user.ID,
	}
}

func (f *fixture) enqueue(t *testing.T, p jobs.Payload) snowflake.ID {
	t.Helper()
	res, err := f.queue.Enqueue(context.Background(), jobs.Request(p, jobs.Options{}))
	require.NoError(t, err)
	return res.JobID
}

func (f *fixture) drain(t *testing.T, queue string) int {
	t.Helper()
	n := 0
	for {
		worked, err := f.pool.RunOnce(context.Background(), queue, "test-worker")
		require.NoError(t, err)
		if !worked {
			return n
		}
		n++
	}
}

func (f *fixture) status(t *testing.T, id snowflake.ID) jobqueue.Status {
	t.Helper()
	job, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return job.Status
}

func TestSummaryPipelineSendsOneEmail(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.activities.Log(ctx, activity.LogRequest{
		UserID:       f.user,
		ActivityType: "commute",
		Details:      map[string]any{"mode": "car", "distance": 10.0},
		ActivityDate: testutil.Date(2024, 3, 4),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.drain(t, jobqueue.QueueActivities))

	ref := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	summaryJob := f.enqueue(t, jobs.GenerateSummary{UserID: f.user, ReferenceDate: &ref})
	assert.Equal(t, 1, f.drain(t, jobqueue.QueueSummaries))
	assert.Equal(t, jobqueue.StatusCompleted, f.status(t, summaryJob))

	var stored summary.WeeklySummary
	require.NoError(t, f.db.Where("user_id = ?", f.user).Take(&stored).Error)
	assert.Equal(t, int64(1), stored.ActivityCount)
	assert.InDelta(t, 1.92, stored.TotalCo2Kg, 1e-9)

	assert.Equal(t, 1, f.drain(t, jobqueue.QueueEmails))
	require.Len(t, f.provider.sent, 1)
	assert.Equal(t, "Your Weekly Carbon Footprint Summary - Mar 4 to Mar 10, 2024", f.provider.sent[0].Subject)
	assert.Contains(t, f.provider.sent[0].HTML, "1.92 kg CO₂")
	assert.Contains(t, f.provider.sent[0].HTML, "increased from last week")
}

func TestRepeatedSummaryRunQueuesEmailOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	job := jobqueue.Job{ID: 555, Queue: jobqueue.QueueSummaries, Type: string(jobs.KindGenerateSummary)}

	require.NoError(t, f.handler.GenerateSummary(ctx, job, jobs.GenerateSummary{UserID: f.user}))
	require.NoError(t, f.handler.GenerateSummary(ctx, job, jobs.GenerateSummary{UserID: f.user}))

	stats, err := f.queue.Stats(ctx, jobqueue.QueueEmails)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[jobqueue.StatusQueued])
}

func TestSummaryWithoutEmails(t *testing.T) {
	f := newFixture(t, false)

	f.enqueue(t, jobs.GenerateSummary{UserID: f.user})
	assert.Equal(t, 1, f.drain(t, jobqueue.QueueSummaries))
	assert.Equal(t, 0, f.drain(t, jobqueue.QueueEmails))
}

func TestUnknownUserParksSummaryJob(t *testing.T) {
	f := newFixture(t, true)

	id := f.enqueue(t, jobs.GenerateSummary{UserID: snowflake.ID(404)})
	assert.Equal(t, 1, f.drain(t, jobqueue.QueueSummaries))
	assert.Equal(t, jobqueue.StatusFailed, f.status(t, id))

	failed, _, err := f.queue.ListFailed(context.Background(), jobqueue.QueueSummaries, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
	assert.Contains(t, *failed[0].LastError, "user_not_found")
}

func TestEmailFailureRetriesThenParks(t *testing.T) {
	f := newFixture(t, true)
	f.provider.err = errors.New("connection refused")

	id := f.enqueue(t, jobs.SendSummaryEmail{UserID: f.user, Summary: summary.WeeklySummary{ID: 1}})
	for attempt := 1; attempt <= 3; attempt++ {
		assert.Equal(t, 1, f.drain(t, jobqueue.QueueEmails), "attempt %d", attempt)
		f.clock.Advance(time.Minute)
	}
	assert.Equal(t, jobqueue.StatusFailed, f.status(t, id))
	assert.Equal(t, 0, f.drain(t, jobqueue.QueueEmails))
}

func TestUnknownJobTypeIsParked(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.queue.Enqueue(context.Background(), jobqueue.EnqueueRequest{
		Queue:   jobqueue.QueueActivities,
		Type:    "export_csv",
		Payload: map[string]string{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.drain(t, jobqueue.QueueActivities))
	assert.Equal(t, jobqueue.StatusFailed, f.status(t, res.JobID))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, false)
	f.enqueue(t, jobs.GenerateSummary{UserID: f.user})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := f.queue.Stats(context.Background(), jobqueue.QueueSummaries)
		return err == nil && stats[jobqueue.StatusCompleted] == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

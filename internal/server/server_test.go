package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/ecopoints/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/ecopoints/internal/ledger/service"
	obscontext "github.com/smallbiznis/ecopoints/internal/observability/context"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"github.com/smallbiznis/ecopoints/internal/scheduler"
	"github.com/smallbiznis/ecopoints/internal/streak"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"github.com/smallbiznis/ecopoints/internal/testutil"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	userrepository "github.com/smallbiznis/ecopoints/internal/user/repository"
	userservice "github.com/smallbiznis/ecopoints/internal/user/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorPayload   `json:"error"`
}

type testServer struct {
	srv   *Server
	clock *clock.FakeClock
	queue *jobqueue.Queue
}

func newTestServer(t *testing.T) *testServer {
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
		Queue: config.QueueConfig{MaxAttempts: 2, LeaseTimeout: time.Minute, BackoffInitial: time.Second, BackoffMax: time.Minute},
	}
	rules := config.NewStaticGamificationHolder(config.DefaultGamificationConfig())

	users := userrepository.Provide()
	ledger := ledgerservice.New(ledgerservice.Params{DB: conn, Log: log, GenID: node, Clock: fake, Repo: ledgerrepository.Provide()})
	queue := jobqueue.New(jobqueue.Params{DB: conn, Log: log, GenID: node, Clock: fake, Config: cfg})
	catalog := emission.NewStaticCatalog(emission.DefaultFactors())
	activities := activity.New(activity.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: activity.NewRepository(), Users: users,
		Catalog: catalog, Ledger: ledger, Rules: rules, Queue: queue,
	})
	summaries := summary.New(summary.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Users: users, Activity: activities, Points: ledger,
	})
	streaks, err := streak.New(streak.Params{DB: conn, Log: log, Clock: fake, Users: users, Ledger: ledger, Gamification: rules})
	require.NoError(t, err)
	sched, err := scheduler.New(scheduler.Params{DB: conn, Log: log, GenID: node, Clock: fake, Users: users, Queue: queue})
	require.NoError(t, err)

	srv := NewServer(ServerParams{
		Gin:        NewEngine(log, false, obsmetrics.HTTP()),
		Cfg:        cfg,
		DB:         conn,
		Log:        log,
		Users:      userservice.New(userservice.Params{DB: conn, Log: log, GenID: node, Clock: fake, Repo: users}),
		Ledger:     ledger,
		Streaks:    streaks,
		Activities: activities,
		Summaries:  summaries,
		Scheduler:  sched,
		Queue:      queue,
		Catalog:    catalog,
	})
	return &testServer{srv: srv, clock: fake, queue: queue}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)

	var out envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (ts *testServer) createUser(t *testing.T, email string) string {
	t.Helper()
	code, out := ts.do(t, http.MethodPost, "/internal/users", map[string]any{"email": email, "display_name": "Ada"})
	require.Equal(t, http.StatusCreated, code)
	var user struct {
		ID snowflake.ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &user))
	return user.ID.String()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	code, out := ts.do(t, http.MethodGet, "/internal/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, out.Error)
	assert.Equal(t, "not_found", out.Error.Type)
}

func TestCreateUserValidationAndConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "ada@example.com")

	code, out := ts.do(t, http.MethodPost, "/internal/users", map[string]any{"email": "ada@example.com"})
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, out.Error)

	code, out = ts.do(t, http.MethodPost, "/internal/users", map[string]any{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, out.Error)
	require.Len(t, out.Error.Errors, 1)
	assert.Equal(t, "invalid_email", out.Error.Errors[0].Code)
}

func TestInvalidAndUnknownUserID(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodGet, "/internal/users/abc/streak", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodGet, "/internal/users/12345/streak", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodGet, "/internal/users/12345/points", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/internal/users/12345/summaries", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLoginAndStreak(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createUser(t, "ada@example.com")

	for _, day := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		code, _ := ts.do(t, http.MethodPost, "/internal/users/"+id+"/login", map[string]any{"date": day})
		require.Equal(t, http.StatusOK, code)
	}

	code, out := ts.do(t, http.MethodGet, "/internal/users/"+id+"/streak", nil)
	require.Equal(t, http.StatusOK, code)
	var info streak.Info
	require.NoError(t, json.Unmarshal(out.Data, &info))
	assert.Equal(t, 3, info.CurrentStreak)
	assert.Equal(t, 3, info.LongestStreak)
	require.NotNil(t, info.NextMilestone)
	assert.Equal(t, 7, info.NextMilestone.Days)

	code, out = ts.do(t, http.MethodPost, "/internal/users/"+id+"/login", map[string]any{"date": "2024-02-20"})
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, out.Error)
	assert.Equal(t, "clock_skew", out.Error.Type)

	code, _ = ts.do(t, http.MethodPost, "/internal/users/"+id+"/login", map[string]any{"date": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActivityPointsAndRedeem(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createUser(t, "ada@example.com")

	code, out := ts.do(t, http.MethodPost, "/internal/users/"+id+"/activities", map[string]any{
		"activity_type": "commute",
		"details":       map[string]any{"mode": "bike", "distance": 5},
	})
	require.Equal(t, http.StatusCreated, code)
	var item activity.Activity
	require.NoError(t, json.Unmarshal(out.Data, &item))
	assert.Equal(t, int64(50), item.PointsAwarded)

	code, out = ts.do(t, http.MethodGet, "/internal/users/"+id+"/points", nil)
	require.Equal(t, http.StatusOK, code)
	var points struct {
		Balance int64                        `json:"balance"`
		History ledgerdomain.HistoryResponse `json:"history"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &points))
	assert.Equal(t, int64(50), points.Balance)
	require.Len(t, points.History.Entries, 1)

	code, out = ts.do(t, http.MethodPost, "/internal/users/"+id+"/redeem", map[string]any{
		"reward_id": "tree", "reward_name": "Plant a tree", "cost": 80,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	require.NotNil(t, out.Error)
	assert.Equal(t, "insufficient_balance", out.Error.Type)

	code, out = ts.do(t, http.MethodPost, "/internal/users/"+id+"/redeem", map[string]any{
		"reward_id": "tree", "reward_name": "Plant a tree", "cost": 30,
	})
	require.Equal(t, http.StatusOK, code)
	var entry ledgerdomain.Entry
	require.NoError(t, json.Unmarshal(out.Data, &entry))
	assert.Equal(t, "Redeemed: Plant a tree", entry.Reason)
	assert.Equal(t, int64(20), entry.BalanceAfter)

	code, out = ts.do(t, http.MethodGet, "/internal/users/"+id+"/points/reconcile", nil)
	require.Equal(t, http.StatusOK, code)
	var rec struct {
		Consistent bool `json:"consistent"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &rec))
	assert.True(t, rec.Consistent)

	code, out = ts.do(t, http.MethodGet, "/internal/users/"+id+"/activities", nil)
	require.Equal(t, http.StatusOK, code)
	var list activity.ListResponse
	require.NoError(t, json.Unmarshal(out.Data, &list))
	assert.Len(t, list.Activities, 1)
}

func TestTriggerSummaryAndStats(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createUser(t, "ada@example.com")

	code, out := ts.do(t, http.MethodPost, "/internal/users/"+id+"/summaries", nil)
	require.Equal(t, http.StatusAccepted, code)
	var result jobqueue.EnqueueResult
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.NotZero(t, result.JobID)

	code, out = ts.do(t, http.MethodGet, "/internal/jobs/stats?queue=summaries", nil)
	require.Equal(t, http.StatusOK, code)
	var stats map[string]map[jobqueue.Status]int64
	require.NoError(t, json.Unmarshal(out.Data, &stats))
	assert.Equal(t, int64(1), stats[jobqueue.QueueSummaries][jobqueue.StatusQueued])

	code, _ = ts.do(t, http.MethodGet, "/internal/jobs/stats?queue=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = ts.do(t, http.MethodGet, "/internal/users/"+id+"/summaries", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(out.Data))
}

func TestFailedJobsAndRetry(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	res, err := ts.queue.Enqueue(ctx, jobs.Request(jobs.GenerateSummary{UserID: 42}, jobs.Options{}))
	require.NoError(t, err)
	job, err := ts.queue.Lease(ctx, jobqueue.QueueSummaries, "test")
	require.NoError(t, err)
	require.NotNil(t, job)
	failed, err := ts.queue.Fail(ctx, job.ID, "test", jobqueue.Permanent(errors.New("boom")))
	require.ErrorIs(t, err, jobqueue.ErrJobExhausted)
	require.True(t, failed.Exhausted)

	code, out := ts.do(t, http.MethodGet, "/internal/jobs/failed?queue=summaries", nil)
	require.Equal(t, http.StatusOK, code)
	var page failedJobsResponse
	require.NoError(t, json.Unmarshal(out.Data, &page))
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, res.JobID, page.Jobs[0].ID)
	require.NotNil(t, page.Jobs[0].LastError)

	path := "/internal/jobs/" + res.JobID.String() + "/retry"
	code, _ = ts.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, code)

	code, out = ts.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, out.Error)
	assert.Equal(t, "job_not_failed", out.Error.Type)

	code, _ = ts.do(t, http.MethodPost, "/internal/jobs/999/retry", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = ts.do(t, http.MethodGet, "/internal/jobs/"+res.JobID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	var got jobqueue.Job
	require.NoError(t, json.Unmarshal(out.Data, &got))
	assert.Equal(t, jobqueue.StatusQueued, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestReloadStaticCatalog(t *testing.T) {
	ts := newTestServer(t)
	code, out := ts.do(t, http.MethodPost, "/internal/catalog/reload", nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Factors int `json:"factors"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &body))
	assert.Equal(t, len(emission.DefaultFactors()), body.Factors)
}

func TestUserContextTagsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var userID string
	r.GET("/users/:id", userContext, func(c *gin.Context) {
		userID = obscontext.UserIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "42", userID)
}

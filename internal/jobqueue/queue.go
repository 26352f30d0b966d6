package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"github.com/smallbiznis/ecopoints/pkg/db"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxErrorLength = 2000

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
}

type Queue struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.QueueConfig
	metrics *obsmetrics.JobMetrics
}

func New(p Params) *Queue {
	return &Queue{
		db:      p.DB,
		log:     p.Log.Named("jobqueue"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     withDefaults(p.Config.Queue),
		metrics: obsmetrics.Jobs(),
	}
}

func withDefaults(cfg config.QueueConfig) config.QueueConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 10 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Minute
	}
	return cfg
}

type EnqueueRequest struct {
	Queue   string
	Type    string
	Payload any
	// DedupeKey collapses repeated enqueues onto the first job for the key,
	// whatever state that job is in.
	DedupeKey   string
	RunAt       time.Time
	MaxAttempts int
}

type EnqueueResult struct {
	JobID        snowflake.ID `json:"job_id"`
	Deduplicated bool         `json:"deduplicated"`
}

// Enqueue durably stores a queued job and returns without waiting for it.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	return q.EnqueueTx(ctx, q.db, req)
}

// EnqueueTx stores the job in the caller's transaction so it becomes visible
// to workers only if the surrounding work commits.
func (q *Queue) EnqueueTx(ctx context.Context, tx *gorm.DB, req EnqueueRequest) (EnqueueResult, error) {
	queue := strings.TrimSpace(req.Queue)
	if !slices.Contains(Queues, queue) {
		return EnqueueResult{}, ErrInvalidQueue
	}
	jobType := strings.TrimSpace(req.Type)
	if jobType == "" {
		return EnqueueResult{}, ErrInvalidType
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("encode payload: %w", err)
	}

	now := q.clock.Now().UTC()
	runAt := req.RunAt.UTC()
	if req.RunAt.IsZero() || runAt.Before(now) {
		runAt = now
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	var dedupeKey *string
	if key := strings.TrimSpace(req.DedupeKey); key != "" {
		dedupeKey = &key
	}

	job := Job{
		ID:          q.genID.Generate(),
		Queue:       queue,
		Type:        jobType,
		Payload:     datatypes.JSON(payload),
		DedupeKey:   dedupeKey,
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id := job.ID
	result := insertJob(tx.WithContext(ctx), &job)
	if result.Error != nil {
		return EnqueueResult{}, result.Error
	}

	log := logger.WithContext(ctx, q.log).With(
		zap.String("queue", queue),
		zap.String("type", jobType),
	)
	if result.RowsAffected == 0 {
		var existing snowflake.ID
		if err := tx.WithContext(ctx).Raw(`SELECT id FROM jobs WHERE dedupe_key = ?`, dedupeKey).Scan(&existing).Error; err != nil {
			return EnqueueResult{}, err
		}
		q.metrics.IncDeduplicated(queue, jobType)
		log.Debug("jobqueue.job.deduplicated", zap.String("job_id", existing.String()), zap.Stringp("dedupe_key", dedupeKey))
		return EnqueueResult{JobID: existing, Deduplicated: true}, nil
	}

	q.metrics.IncEnqueued(queue, jobType)
	log.Debug("jobqueue.job.enqueued", zap.String("job_id", id.String()), zap.Time("run_at", runAt))
	return EnqueueResult{JobID: id}, nil
}

// insertJob stores job, skipping it when its dedupe key is already taken.
// NULL keys never conflict.
func insertJob(tx *gorm.DB, job *Job) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(job)
}

// Lease claims the oldest runnable job on queue for owner. It returns nil
// when nothing is runnable. Contended rows are skipped, and the conditional
// status update makes the claim exclusive even without row locks.
func (q *Queue) Lease(ctx context.Context, queue, owner string) (*Job, error) {
	if !slices.Contains(Queues, queue) {
		return nil, ErrInvalidQueue
	}
	var leased *Job
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.clock.Now().UTC()

		var ids []snowflake.ID
		err := tx.Raw(
			`SELECT id FROM jobs
			 WHERE queue = ? AND status = ? AND run_at <= ?
			 ORDER BY run_at ASC, id ASC
			 LIMIT 1`+db.ForUpdateSkipLocked(tx),
			queue,
			StatusQueued,
			now,
		).Scan(&ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		leasedUntil := now.Add(q.cfg.LeaseTimeout)
		result := tx.Exec(
			`UPDATE jobs
			 SET status = ?, attempts = attempts + 1, lease_owner = ?, leased_until = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			StatusRunning,
			owner,
			leasedUntil,
			now,
			ids[0],
			StatusQueued,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		job, err := findJob(ctx, tx, ids[0], false)
		if err != nil {
			return err
		}
		leased = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// Complete marks a leased job done.
func (q *Queue) Complete(ctx context.Context, jobID snowflake.ID, owner string) error {
	now := q.clock.Now().UTC()
	result := q.db.WithContext(ctx).Exec(
		`UPDATE jobs
		 SET status = ?, completed_at = ?, lease_owner = NULL, leased_until = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND lease_owner = ?`,
		StatusCompleted,
		now,
		now,
		jobID,
		StatusRunning,
		owner,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

type FailResult struct {
	Attempts  int
	Exhausted bool
	NextRunAt time.Time
}

// Fail records a failed attempt. The job is requeued with exponential backoff
// while attempts remain; otherwise, or when cause is Permanent, it is parked
// as failed and the returned error wraps ErrJobExhausted.
func (q *Queue) Fail(ctx context.Context, jobID snowflake.ID, owner string, cause error) (FailResult, error) {
	message := "unknown error"
	if cause != nil {
		message = truncate(cause.Error(), maxErrorLength)
	}

	var out FailResult
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := findJob(ctx, tx, jobID, true)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrJobNotFound
		}
		if job.Status != StatusRunning || job.LeaseOwner == nil || *job.LeaseOwner != owner {
			return ErrLeaseLost
		}

		now := q.clock.Now().UTC()
		out.Attempts = job.Attempts
		if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
			out.Exhausted = true
			return tx.Exec(
				`UPDATE jobs
				 SET status = ?, last_error = ?, failed_at = ?, lease_owner = NULL, leased_until = NULL, updated_at = ?
				 WHERE id = ?`,
				StatusFailed,
				message,
				now,
				now,
				jobID,
			).Error
		}

		out.NextRunAt = now.Add(q.RetryDelay(job.Attempts))
		return tx.Exec(
			`UPDATE jobs
			 SET status = ?, run_at = ?, last_error = ?, lease_owner = NULL, leased_until = NULL, updated_at = ?
			 WHERE id = ?`,
			StatusQueued,
			out.NextRunAt,
			message,
			now,
			jobID,
		).Error
	})
	if err != nil {
		return FailResult{}, err
	}
	if out.Exhausted {
		return out, fmt.Errorf("%w: job %s after %d attempts: %s", ErrJobExhausted, jobID, out.Attempts, message)
	}
	return out, nil
}

// RetryDelay is the wait before the attempt following the given one.
func (q *Queue) RetryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     q.cfg.BackoffInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         q.cfg.BackoffMax,
	}
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

type ReclaimResult struct {
	Requeued int64
	Parked   int64
}

// ReclaimExpired returns running jobs whose lease ran out to the queue, or
// parks them when that lease was their last attempt.
func (q *Queue) ReclaimExpired(ctx context.Context, queue string) (ReclaimResult, error) {
	var out ReclaimResult
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.clock.Now().UTC()
		parked := tx.Exec(
			`UPDATE jobs
			 SET status = ?, last_error = ?, failed_at = ?, lease_owner = NULL, leased_until = NULL, updated_at = ?
			 WHERE queue = ? AND status = ? AND leased_until < ? AND attempts >= max_attempts`,
			StatusFailed,
			"lease expired",
			now,
			now,
			queue,
			StatusRunning,
			now,
		)
		if parked.Error != nil {
			return parked.Error
		}
		requeued := tx.Exec(
			`UPDATE jobs
			 SET status = ?, run_at = ?, last_error = ?, lease_owner = NULL, leased_until = NULL, updated_at = ?
			 WHERE queue = ? AND status = ? AND leased_until < ?`,
			StatusQueued,
			now,
			"lease expired",
			now,
			queue,
			StatusRunning,
			now,
		)
		if requeued.Error != nil {
			return requeued.Error
		}
		out = ReclaimResult{Requeued: requeued.RowsAffected, Parked: parked.RowsAffected}
		return nil
	})
	if err != nil {
		return ReclaimResult{}, err
	}
	if out.Requeued > 0 || out.Parked > 0 {
		q.metrics.AddReclaimed(queue, out.Requeued+out.Parked)
		logger.WithContext(ctx, q.log).Warn("jobqueue.lease.reclaimed",
			zap.String("queue", queue),
			zap.Int64("requeued", out.Requeued),
			zap.Int64("parked", out.Parked),
		)
	}
	return out, nil
}

func (q *Queue) Get(ctx context.Context, jobID snowflake.ID) (*Job, error) {
	job, err := findJob(ctx, q.db, jobID, false)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListFailed pages through parked jobs, newest id first. An empty queue
// lists every queue.
func (q *Queue) ListFailed(ctx context.Context, queue string, page pagination.Pagination) ([]Job, pagination.PageInfo, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	limit := page.Limit()

	stmt := q.db.WithContext(ctx).Model(&Job{}).Where("status = ?", StatusFailed)
	if queue != "" {
		stmt = stmt.Where("queue = ?", queue)
	}
	if cursor != nil && cursor.ID != "" {
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", before)
	}

	var jobs []Job
	if err := stmt.Order("id desc").Limit(limit + 1).Find(&jobs).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}
	jobs, info := pagination.Page(jobs, limit, func(j Job) pagination.Cursor {
		return pagination.Cursor{ID: j.ID.String()}
	})
	return jobs, info, nil
}

// Retry requeues a parked job with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, jobID snowflake.ID) error {
	now := q.clock.Now().UTC()
	result := q.db.WithContext(ctx).Exec(
		`UPDATE jobs
		 SET status = ?, attempts = 0, run_at = ?, failed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusQueued,
		now,
		now,
		jobID,
		StatusFailed,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := q.Get(ctx, jobID); err != nil {
			return err
		}
		return ErrNotFailed
	}
	logger.WithContext(ctx, q.log).Info("jobqueue.job.retried", zap.String("job_id", jobID.String()))
	return nil
}

// Stats counts jobs per status on queue.
func (q *Queue) Stats(ctx context.Context, queue string) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Count  int64
	}
	err := q.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count FROM jobs WHERE queue = ? GROUP BY status`,
		queue,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := map[Status]int64{
		StatusQueued:    0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

func findJob(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*Job, error) {
	query := `SELECT id, queue, type, payload, dedupe_key, status, attempts, max_attempts, run_at,
		lease_owner, leased_until, last_error, completed_at, failed_at, created_at, updated_at
		FROM jobs WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	var job Job
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

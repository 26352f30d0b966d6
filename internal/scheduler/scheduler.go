package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	"github.com/smallbiznis/ecopoints/internal/lock"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"github.com/smallbiznis/ecopoints/internal/summary"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobWeeklySummary = "weekly_summary_fanout"

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUserNotFound  = userdomain.ErrNotFound
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Users  userdomain.Repository
	Queue  *jobqueue.Queue
	Locker *lock.Locker `optional:"true"`
	Config Config       `optional:"true"`
}

// Scheduler fans periodic work out onto the job queue. It never does the
// work itself.
type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	users   userdomain.Repository
	queue   *jobqueue.Queue
	locker  *lock.Locker
	metrics *obsmetrics.JobMetrics
	cron    *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Users == nil || p.Queue == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.WeeklySummaryCron); err != nil {
		return nil, fmt.Errorf("%w: weekly summary cron %q: %v", ErrInvalidConfig, cfg.WeeklySummaryCron, err)
	}
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	return &Scheduler{
		db:      p.DB,
		log:     log,
		cfg:     cfg,
		genID:   p.GenID,
		clock:   p.Clock,
		users:   p.Users,
		queue:   p.Queue,
		locker:  p.Locker,
		metrics: obsmetrics.Jobs(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log.Sugar()})),
			cron.WithLogger(cronLogger{log: log.Sugar()}),
		),
	}, nil
}

// Start registers the weekly fanout and starts the cron loop.
func (s *Scheduler) Start() error {
	var id cron.EntryID
	id, err := s.cron.AddFunc(s.cfg.WeeklySummaryCron, func() {
		if prev := s.cron.Entry(id).Prev; !prev.IsZero() {
			s.metrics.ObserveSchedulerLag(time.Since(prev))
		}
		if err := s.runJob(context.Background(), jobWeeklySummary, s.cfg.BatchSize, s.cfg.FanoutTimeout, s.WeeklySummaryJob); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s.cron.Start()
	s.log.Info("scheduler.started",
		zap.String("weekly_summary_cron", s.cfg.WeeklySummaryCron),
		zap.Bool("leader_lock", s.locker.Enabled()),
	)
	return nil
}

// Stop waits for a running fanout to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncSchedulerRun(name)

	err := fn(ctx)
	if owner {
		if err != nil && run.errors == 0 {
			run.errors++
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}
	s.metrics.IncSchedulerError(name, err)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Jobs enqueued before the deadline stand; the dedupe key makes a
		// manual rerun safe.
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunWeeklySummary runs the fanout immediately, as the cron entry would.
func (s *Scheduler) RunWeeklySummary(ctx context.Context) error {
	return s.runJob(ctx, jobWeeklySummary, s.cfg.BatchSize, s.cfg.FanoutTimeout, s.WeeklySummaryJob)
}

// WeeklySummaryJob enqueues one summary job per user for the week that just
// ended. Each job carries a per user and week dedupe key, so overlapping or
// repeated runs queue nothing new.
func (s *Scheduler) WeeklySummaryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobWeeklySummary, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.FanoutTimeout)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.lock.failed", err)
			return err
		}
		if !ok {
			s.logger(ctx).Info("scheduler.lock.not_acquired", zap.String("key", s.cfg.LockKey))
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), s.cfg.LockKey, token); err != nil {
				s.logger(ctx).Warn("scheduler.lock.release_failed", zap.Error(err))
			}
		}()
	}

	now := s.clock.Now().UTC()
	weekStart, _ := summary.WeekBounds(now)

	var (
		after  snowflake.ID
		jobErr error
	)
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		ids, err := s.users.ListIDs(ctx, s.db, after, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.users.list_failed", err)
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			break
		}
		for _, userID := range ids {
			res, err := s.queue.Enqueue(ctx, jobs.Request(
				jobs.GenerateSummary{UserID: userID, ReferenceDate: &now},
				jobs.Options{DedupeKey: jobs.SummaryDedupeKey(userID, weekStart)},
			))
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.summary.enqueue_failed", err, zap.String("user_id", userID.String()))
				continue
			}
			if res.Deduplicated {
				run.deduped++
				continue
			}
			run.enqueued++
		}
		after = ids[len(ids)-1]
		if len(ids) < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}

// TriggerSummary queues an immediate summary for one user. Manual triggers
// carry no dedupe key, so each call produces a fresh job.
func (s *Scheduler) TriggerSummary(ctx context.Context, userID snowflake.ID) (jobqueue.EnqueueResult, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return jobqueue.EnqueueResult{}, err
	}
	if user == nil {
		return jobqueue.EnqueueResult{}, ErrUserNotFound
	}
	now := s.clock.Now().UTC()
	res, err := s.queue.Enqueue(ctx, jobs.Request(jobs.GenerateSummary{UserID: userID, ReferenceDate: &now}, jobs.Options{}))
	if err != nil {
		return jobqueue.EnqueueResult{}, err
	}
	s.logger(ctx).Info("scheduler.summary.triggered",
		zap.String("user_id", userID.String()),
		zap.String("job_id", res.JobID.String()),
	)
	return res, nil
}

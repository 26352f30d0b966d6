package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	obscontext "github.com/smallbiznis/ecopoints/internal/observability/context"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Queue   *jobqueue.Queue
	Handler jobs.Handler
}

// Pool runs polling workers for every queue plus a lease reclaim loop.
type Pool struct {
	log     *zap.Logger
	cfg     config.WorkerConfig
	queue   *jobqueue.Queue
	handler jobs.Handler
	tracer  trace.Tracer
	metrics *obsmetrics.JobMetrics
	// instance prefixes lease owners so leases are attributable per process.
	instance string
}

func New(p Params) *Pool {
	return &Pool{
		log:      p.Log.Named("worker"),
		cfg:      withDefaults(p.Config.Worker),
		queue:    p.Queue,
		handler:  p.Handler,
		tracer:   otel.Tracer("ecopoints/worker"),
		metrics:  obsmetrics.Jobs(),
		instance: uuid.NewString(),
	}
}

func withDefaults(cfg config.WorkerConfig) config.WorkerConfig {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = 30 * time.Second
	}
	return cfg
}

func (p *Pool) concurrency(queue string) int {
	n := 1
	switch queue {
	case jobqueue.QueueActivities:
		n = p.cfg.ActivityWorkers
	case jobqueue.QueueSummaries:
		n = p.cfg.SummaryWorkers
	case jobqueue.QueueEmails:
		n = p.cfg.EmailWorkers
	}
	return max(n, 1)
}

// Run blocks until ctx is canceled. Jobs already leased finish with their
// own timeout; anything interrupted is reclaimed after its lease expires.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range jobqueue.Queues {
		for i := 0; i < p.concurrency(queue); i++ {
			owner := fmt.Sprintf("%s/%s/%d", p.instance, queue, i)
			g.Go(func() error {
				p.poll(ctx, queue, owner)
				return nil
			})
		}
	}
	g.Go(func() error {
		p.reclaimLoop(ctx)
		return nil
	})

	p.log.Info("worker.pool.started",
		zap.String("instance", p.instance),
		zap.Int("activities", p.concurrency(jobqueue.QueueActivities)),
		zap.Int("summaries", p.concurrency(jobqueue.QueueSummaries)),
		zap.Int("emails", p.concurrency(jobqueue.QueueEmails)),
	)
	err := g.Wait()
	p.log.Info("worker.pool.stopped")
	return err
}

func (p *Pool) poll(ctx context.Context, queue, owner string) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// Drain the queue before sleeping again.
		for ctx.Err() == nil {
			worked, err := p.RunOnce(ctx, queue, owner)
			if err != nil {
				p.log.Warn("worker.lease.failed", zap.String("queue", queue), zap.Error(err))
				break
			}
			if !worked {
				break
			}
		}
		timer.Reset(p.cfg.PollInterval)
	}
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.ReclaimOnce(ctx)
	}
}

// ReclaimOnce sweeps expired leases on every queue.
func (p *Pool) ReclaimOnce(ctx context.Context) {
	for _, queue := range jobqueue.Queues {
		if _, err := p.queue.ReclaimExpired(ctx, queue); err != nil {
			p.log.Warn("worker.reclaim.failed", zap.String("queue", queue), zap.Error(err))
		}
	}
}

// RunOnce leases and executes at most one job. It reports whether a job was
// found; job failures are recorded on the job, not returned.
func (p *Pool) RunOnce(ctx context.Context, queue, owner string) (bool, error) {
	job, err := p.queue.Lease(ctx, queue, owner)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.execute(ctx, *job, owner)
	return true, nil
}

func (p *Pool) execute(parent context.Context, job jobqueue.Job, owner string) {
	start := time.Now()

	// Detached from the poll context so shutdown lets in-flight jobs finish.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.cfg.JobTimeout)
	defer cancel()
	ctx = obscontext.WithActor(ctx, "system", "worker")
	ctx = obscontext.WithJob(ctx, job.ID.String(), job.Queue)

	ctx, span := p.tracer.Start(ctx, "job "+job.Type,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.queue", job.Queue),
			attribute.String("job.type", job.Type),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	defer span.End()

	log := logger.WithContext(ctx, p.log).With(
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
	)
	log.Debug("jobqueue.job.start")

	runErr := p.dispatch(ctx, job)
	elapsed := time.Since(start)

	if runErr == nil {
		if err := p.queue.Complete(ctx, job.ID, owner); err != nil {
			log.Warn("jobqueue.job.complete_failed", zap.Error(err))
			span.RecordError(err)
			return
		}
		p.metrics.ObserveAttempt(job.Queue, job.Type, obsmetrics.OutcomeCompleted, elapsed, nil)
		log.Info("jobqueue.job.completed", zap.Duration("elapsed", elapsed))
		return
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())

	out, err := p.queue.Fail(ctx, job.ID, owner, runErr)
	switch {
	case errors.Is(err, jobqueue.ErrJobExhausted):
		p.metrics.ObserveAttempt(job.Queue, job.Type, obsmetrics.OutcomeExhausted, elapsed, runErr)
		log.Error("jobqueue.job.exhausted",
			zap.Bool("permanent", jobqueue.IsPermanent(runErr)),
			zap.String("reason", obsmetrics.ClassifyReason(runErr)),
			zap.Error(runErr),
		)
	case err != nil:
		log.Warn("jobqueue.job.fail_failed", zap.Error(err), zap.NamedError("cause", runErr))
	default:
		p.metrics.ObserveAttempt(job.Queue, job.Type, obsmetrics.OutcomeRetried, elapsed, runErr)
		log.Warn("jobqueue.job.retry",
			zap.Time("next_run_at", out.NextRunAt),
			zap.Bool("transient", obsmetrics.IsTransient(runErr)),
			zap.Error(runErr),
		)
	}
}

func (p *Pool) dispatch(ctx context.Context, job jobqueue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return jobs.Dispatch(ctx, p.handler, job)
}

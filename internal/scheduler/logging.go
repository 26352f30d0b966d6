package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/ecopoints/internal/observability/context"
	obslogger "github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tallies one fanout run for its finish log line.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	enqueued  int
	deduped   int
	errors    int
}

type jobRunKey struct{}

// ensureJobRun returns the run already carried by ctx, or starts a new one.
// owner reports whether the caller started it and so logs its start/finish.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Duration("elapsed", s.clock.Now().Sub(run.startedAt)),
		zap.Int("enqueued", run.enqueued),
		zap.Int("deduped", run.deduped),
		zap.Int("errors", run.errors),
	}
	if run.errors > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

// logSchedulerError counts err against run and logs it with its
// classification.
func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	run.errors++
	s.logger(ctx).Error(msg, append([]zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("reason", obsmetrics.ClassifyReason(err)),
		zap.Bool("transient", obsmetrics.IsTransient(err)),
		zap.Error(err),
	}, fields...)...)
}

// cronLogger routes robfig/cron diagnostics into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

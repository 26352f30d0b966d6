package worker

import (
	"context"
	"errors"

	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	"github.com/smallbiznis/ecopoints/internal/notifier"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type HandlerParams struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	Queue      *jobqueue.Queue
	Activities *activity.Service
	Summaries  *summary.Service
	Notifier   *notifier.Notifier
}

// Handler runs the domain work behind each job variant.
type Handler struct {
	log          *zap.Logger
	emailEnabled bool
	clock        clock.Clock
	queue        *jobqueue.Queue
	activities   *activity.Service
	summaries    *summary.Service
	notifier     *notifier.Notifier
}

var _ jobs.Handler = (*Handler)(nil)

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		log:          p.Log.Named("worker.handler"),
		emailEnabled: p.Config.WeeklyEmailsEnabled,
		clock:        p.Clock,
		queue:        p.Queue,
		activities:   p.Activities,
		summaries:    p.Summaries,
		notifier:     p.Notifier,
	}
}

// ProcessActivity has no work yet; it confirms the activity still exists.
func (h *Handler) ProcessActivity(ctx context.Context, job jobqueue.Job, p jobs.ProcessActivity) error {
	item, err := h.activities.Get(ctx, p.ActivityID)
	if err != nil {
		return err
	}
	log := logger.WithContext(ctx, h.log).With(zap.String("activity_id", p.ActivityID.String()))
	if item == nil {
		log.Warn("worker.activity.missing")
		return nil
	}
	log.Debug("worker.activity.processed", zap.String("activity_type", item.ActivityType))
	return nil
}

// GenerateSummary upserts the weekly summary and, when weekly emails are
// enabled, queues exactly one email for this job.
func (h *Handler) GenerateSummary(ctx context.Context, job jobqueue.Job, p jobs.GenerateSummary) error {
	ref := h.clock.Now()
	if p.ReferenceDate != nil {
		ref = *p.ReferenceDate
	}
	report, err := h.summaries.Generate(ctx, p.UserID, ref)
	if errors.Is(err, summary.ErrUserNotFound) || errors.Is(err, summary.ErrInvalidUser) {
		return jobqueue.Permanent(err)
	}
	if err != nil {
		return err
	}
	if !h.emailEnabled {
		return nil
	}

	res, err := h.queue.Enqueue(ctx, jobs.Request(
		jobs.SendSummaryEmail{UserID: p.UserID, Summary: *report},
		jobs.Options{DedupeKey: jobs.SummaryEmailDedupeKey(report.ID, job.ID)},
	))
	if err != nil {
		return err
	}
	logger.WithContext(ctx, h.log).Info("worker.summary.email_queued",
		zap.String("user_id", p.UserID.String()),
		zap.String("email_job_id", res.JobID.String()),
		zap.Bool("deduplicated", res.Deduplicated),
	)
	return nil
}

func (h *Handler) SendSummaryEmail(ctx context.Context, job jobqueue.Job, p jobs.SendSummaryEmail) error {
	_, err := h.notifier.SendSummaryEmail(ctx, p.UserID, p.Summary)
	if errors.Is(err, notifier.ErrUserNotFound) {
		return jobqueue.Permanent(err)
	}
	return err
}

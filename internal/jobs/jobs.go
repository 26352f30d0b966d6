// Package jobs defines the typed payloads carried by the job queue and the
// dispatch from a leased job to its handler.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/summary"
)

type Kind string

const (
	KindProcessActivity  Kind = "process_activity"
	KindGenerateSummary  Kind = "generate_summary"
	KindSendSummaryEmail Kind = "send_summary_email"
)

var (
	ErrUnknownJobType = errors.New("unknown_job_type")
	ErrInvalidPayload = errors.New("invalid_payload")
)

// Payload is implemented only by the variants below.
type Payload interface {
	Kind() Kind
	Queue() string
	isPayload()
}

type ProcessActivity struct {
	ActivityID snowflake.ID `json:"activity_id"`
	UserID     snowflake.ID `json:"user_id"`
}

func (ProcessActivity) Kind() Kind    { return KindProcessActivity }
func (ProcessActivity) Queue() string { return jobqueue.QueueActivities }
func (ProcessActivity) isPayload()    {}

// GenerateSummary asks for the week before ReferenceDate, or before the
// execution time when ReferenceDate is nil.
type GenerateSummary struct {
	UserID        snowflake.ID `json:"user_id"`
	ReferenceDate *time.Time   `json:"reference_date,omitempty"`
}

func (GenerateSummary) Kind() Kind    { return KindGenerateSummary }
func (GenerateSummary) Queue() string { return jobqueue.QueueSummaries }
func (GenerateSummary) isPayload()    {}

type SendSummaryEmail struct {
	UserID  snowflake.ID          `json:"user_id"`
	Summary summary.WeeklySummary `json:"summary"`
}

func (SendSummaryEmail) Kind() Kind    { return KindSendSummaryEmail }
func (SendSummaryEmail) Queue() string { return jobqueue.QueueEmails }
func (SendSummaryEmail) isPayload()    {}

// Decode turns a stored job back into its variant. Unknown types and
// malformed payloads are permanent failures.
func Decode(job jobqueue.Job) (Payload, error) {
	switch Kind(job.Type) {
	case KindProcessActivity:
		return decodeAs[ProcessActivity](job)
	case KindGenerateSummary:
		return decodeAs[GenerateSummary](job)
	case KindSendSummaryEmail:
		return decodeAs[SendSummaryEmail](job)
	default:
		return nil, jobqueue.Permanent(fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type))
	}
}

func decodeAs[T Payload](job jobqueue.Job) (Payload, error) {
	var p T
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, jobqueue.Permanent(fmt.Errorf("%w: %s: %v", ErrInvalidPayload, job.Type, err))
	}
	return p, nil
}

// Handler processes each payload variant. Adding a variant without a method
// here fails to compile in every handler implementation.
type Handler interface {
	ProcessActivity(ctx context.Context, job jobqueue.Job, p ProcessActivity) error
	GenerateSummary(ctx context.Context, job jobqueue.Job, p GenerateSummary) error
	SendSummaryEmail(ctx context.Context, job jobqueue.Job, p SendSummaryEmail) error
}

func Dispatch(ctx context.Context, h Handler, job jobqueue.Job) error {
	payload, err := Decode(job)
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case ProcessActivity:
		return h.ProcessActivity(ctx, job, p)
	case GenerateSummary:
		return h.GenerateSummary(ctx, job, p)
	case SendSummaryEmail:
		return h.SendSummaryEmail(ctx, job, p)
	default:
		return jobqueue.Permanent(fmt.Errorf("%w: %T", ErrUnknownJobType, payload))
	}
}

type Options struct {
	DedupeKey   string
	RunAt       time.Time
	MaxAttempts int
}

// Request builds the queue request for p.
func Request(p Payload, opts Options) jobqueue.EnqueueRequest {
	return jobqueue.EnqueueRequest{
		Queue:       p.Queue(),
		Type:        string(p.Kind()),
		Payload:     p,
		DedupeKey:   opts.DedupeKey,
		RunAt:       opts.RunAt,
		MaxAttempts: opts.MaxAttempts,
	}
}

// SummaryDedupeKey identifies the scheduled summary of one user's week.
func SummaryDedupeKey(userID snowflake.ID, weekStart time.Time) string {
	return fmt.Sprintf("summary:%s:%s", userID, weekStart.UTC().Format(time.DateOnly))
}

// SummaryEmailDedupeKey ties an email to the summary job run that produced
// it, so retrying that job never sends twice.
func SummaryEmailDedupeKey(summaryID, sourceJobID snowflake.ID) string {
	return fmt.Sprintf("summary_email:%s:%s", summaryID, sourceJobID)
}

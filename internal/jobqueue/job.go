package jobqueue

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	QueueActivities = "activities"
	QueueSummaries  = "summaries"
	QueueEmails     = "emails"
)

// Queues lists every queue a worker pool serves.
var Queues = []string{QueueActivities, QueueSummaries, QueueEmails}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a durable unit of work. Producers only create queued jobs; the
// queue owns every later transition.
type Job struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Queue       string         `gorm:"size:32;not null;index:ix_jobs_claim,priority:1" json:"queue"`
	Type        string         `gorm:"type:text;not null" json:"type"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	DedupeKey   *string        `gorm:"size:255;uniqueIndex" json:"dedupe_key,omitempty"`
	Status      Status         `gorm:"size:16;not null;index:ix_jobs_claim,priority:2" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"not null" json:"max_attempts"`
	RunAt       time.Time      `gorm:"not null;index:ix_jobs_claim,priority:3" json:"run_at"`
	LeaseOwner  *string        `gorm:"type:text" json:"lease_owner,omitempty"`
	LeasedUntil *time.Time     `json:"leased_until,omitempty"`
	LastError   *string        `gorm:"type:text" json:"last_error,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

var (
	ErrInvalidQueue = errors.New("invalid_queue")
	ErrInvalidType  = errors.New("invalid_job_type")
	ErrJobNotFound  = errors.New("job_not_found")
	// ErrLeaseLost means the caller no longer owns the job: the lease expired
	// and was reclaimed, or another worker finished it.
	ErrLeaseLost = errors.New("lease_lost")
	// ErrJobExhausted marks a job parked as failed after its last attempt.
	ErrJobExhausted = errors.New("job_exhausted")
	ErrNotFailed    = errors.New("job_not_failed")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Fail parks the job immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

package metrics

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config carries the constant labels attached to every collector.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonDeadlock             = "deadlock"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ecopoints"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// ClassifyReason maps an error to a low-cardinality label value.
func ClassifyReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case hasPGCode(err, "40P01"):
		return ReasonDeadlock
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case isDBError(err):
		return ReasonDB
	}
	return ReasonUnknown
}

// IsTransient reports whether err is a contention or timeout failure that a
// retry is likely to clear.
func IsTransient(err error) bool {
	switch ClassifyReason(err) {
	case ReasonDeadlineExceeded, ReasonDBLockTimeout, ReasonSerializationFailure, ReasonDeadlock:
		return true
	}
	return false
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

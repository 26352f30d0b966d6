package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// EnsureBalance creates the zero balance row for an existing user. It
	// reports false when the user does not exist.
	EnsureBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) (bool, error)
	// ApplyDelta moves the balance by delta unless the result would be
	// negative, in which case it reports false and changes nothing.
	ApplyDelta(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta int64, now time.Time) (bool, error)
	GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Balance, error)
	InsertEntry(ctx context.Context, tx *gorm.DB, entry *Entry) error
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Entry, error)
	ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeSeq int64, limit int) ([]Entry, error)
	SumDeltas(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (int64, error)
	// LedgerTotals returns the sum of all deltas, the entry count and the
	// balance_after of the newest entry.
	LedgerTotals(ctx context.Context, db *gorm.DB, userID snowflake.ID) (sum int64, count int64, last int64, err error)
	UserExists(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)
}

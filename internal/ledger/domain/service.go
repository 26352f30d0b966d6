package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"gorm.io/gorm"
)

type AwardRequest struct {
	UserID     snowflake.ID
	Amount     int64
	Reason     string
	ActivityID *snowflake.ID
	// IdempotencyKey makes repeated awards return the first entry instead
	// of crediting again.
	IdempotencyKey string
	Source         Source
}

type AwardResult struct {
	Entry    Entry
	Replayed bool
}

type SpendRequest struct {
	UserID snowflake.ID
	Amount int64
	Reason string
}

type RedeemRequest struct {
	UserID     snowflake.ID
	RewardID   string
	RewardName string
	Cost       int64
}

type HistoryRequest struct {
	UserID snowflake.ID
	pagination.Pagination
}

type HistoryResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

// Reconciliation compares the maintained balance with the log.
type Reconciliation struct {
	UserID      snowflake.ID `json:"user_id"`
	Maintained  int64        `json:"maintained"`
	LedgerSum   int64        `json:"ledger_sum"`
	LatestAfter int64        `json:"latest_balance_after"`
	EntryCount  int64        `json:"entry_count"`
}

func (r Reconciliation) Consistent() bool {
	return r.Maintained == r.LedgerSum && r.LedgerSum == r.LatestAfter
}

type Service interface {
	Award(ctx context.Context, req AwardRequest) (AwardResult, error)
	// AwardTx awards inside the caller's transaction using a savepoint, so a
	// failed award leaves the outer transaction usable.
	AwardTx(ctx context.Context, tx *gorm.DB, req AwardRequest) (AwardResult, error)
	Spend(ctx context.Context, req SpendRequest) (Entry, error)
	RedeemReward(ctx context.Context, req RedeemRequest) (Entry, error)
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	PointsBetween(ctx context.Context, userID snowflake.ID, from, to time.Time) (int64, error)
	Reconcile(ctx context.Context, userID snowflake.ID) (Reconciliation, error)
}

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrUserNotFound        = errors.New("user_not_found")
)

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Source labels why points moved. It feeds metrics only; the human-readable
// explanation lives in Entry.Reason.
type Source string

const (
	SourceActivity Source = "activity"
	SourceStreak   Source = "streak"
	SourceManual   Source = "manual"
	SourceRedeem   Source = "redeem"
)

// Entry is one immutable signed point transaction. Sequence is dense per user
// starting at 1 and orders entries; BalanceAfter equals the running sum of
// Delta up to and including this entry.
type Entry struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID  `gorm:"not null;uniqueIndex:ux_point_ledger_user_seq,priority:1" json:"user_id"`
	Sequence       int64         `gorm:"not null;uniqueIndex:ux_point_ledger_user_seq,priority:2" json:"sequence"`
	Delta          int64         `gorm:"not null" json:"delta"`
	Reason         string        `gorm:"type:text;not null" json:"reason"`
	ActivityID     *snowflake.ID `gorm:"index" json:"activity_id,omitempty"`
	IdempotencyKey *string       `gorm:"size:255;uniqueIndex" json:"-"`
	BalanceAfter   int64         `gorm:"not null" json:"balance_after"`
	CreatedAt      time.Time     `gorm:"not null;index" json:"created_at"`
}

func (Entry) TableName() string { return "point_ledger_entries" }

// Balance is the maintained running total for a user. EntryCount doubles as
// the last assigned Entry.Sequence.
type Balance struct {
	UserID     snowflake.ID `gorm:"primaryKey" json:"user_id"`
	Balance    int64        `gorm:"not null;default:0" json:"balance"`
	EntryCount int64        `gorm:"not null;default:0" json:"entry_count"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (Balance) TableName() string { return "point_balances" }

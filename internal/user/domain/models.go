package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the subset of the account record the points subsystem reads and
// writes. Streak dates are calendar days stored at 00:00 UTC.
type User struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	Email             string       `gorm:"size:320;not null;uniqueIndex" json:"email"`
	DisplayName       string       `gorm:"type:text" json:"display_name"`
	CountryCode       string       `gorm:"type:text" json:"country_code,omitempty"`
	CurrentStreak     int          `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak     int          `gorm:"not null;default:0" json:"longest_streak"`
	LastLoginDate     *time.Time   `json:"last_login_date,omitempty"`
	StreakStartDate   *time.Time   `json:"streak_start_date,omitempty"`
	TotalStreakPoints int64        `gorm:"not null;default:0" json:"total_streak_points"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// StreakState is the persisted outcome of a streak advance.
type StreakState struct {
	CurrentStreak   int
	LongestStreak   int
	LastLoginDate   time.Time
	StreakStartDate time.Time
	// BonusPoints is added to total_streak_points.
	BonusPoints int64
}

package summary

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSame Trend = "same"
)

// WeeklySummary is one user's footprint for a Monday to Sunday window.
// PreviousWeekCo2Kg and Trend are computed on generation and not stored.
type WeeklySummary struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID        snowflake.ID `gorm:"not null;uniqueIndex:ux_weekly_summary_user_week,priority:1" json:"user_id"`
	WeekStart     time.Time    `gorm:"not null;uniqueIndex:ux_weekly_summary_user_week,priority:2" json:"week_start"`
	WeekEnd       time.Time    `gorm:"not null" json:"week_end"`
	TotalCo2Kg    float64      `gorm:"not null;default:0" json:"total_co2_kg"`
	TotalPoints   int64        `gorm:"not null;default:0" json:"total_points"`
	ActivityCount int64        `gorm:"not null;default:0" json:"activity_count"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`

	PreviousWeekCo2Kg float64 `gorm:"-" json:"previous_week_co2_kg"`
	Trend             Trend   `gorm:"-" json:"trend"`
}

func (WeeklySummary) TableName() string { return "weekly_summaries" }

func classify(current, previous float64) Trend {
	switch {
	case current > previous:
		return TrendUp
	case current < previous:
		return TrendDown
	default:
		return TrendSame
	}
}

// WeekBounds returns the last completed week relative to ref: weekEnd is the
// Sunday on or before ref at the last instant of that day, weekStart the
// Monday six days earlier at midnight. All values are UTC.
func WeekBounds(ref time.Time) (time.Time, time.Time) {
	ref = ref.UTC()
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	sunday := day.AddDate(0, 0, -int(day.Weekday()))
	weekStart := sunday.AddDate(0, 0, -6)
	weekEnd := sunday.Add(24*time.Hour - time.Nanosecond)
	return weekStart, weekEnd
}

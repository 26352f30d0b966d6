package activity

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Activity struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID        snowflake.ID   `gorm:"not null;index:ix_activities_user_date,priority:1" json:"user_id"`
	ActivityType  string         `gorm:"type:text;not null" json:"activity_type"`
	Details       datatypes.JSON `gorm:"not null" json:"details"`
	Co2Kg         float64        `gorm:"not null;default:0" json:"co2_kg"`
	PointsAwarded int64          `gorm:"not null;default:0" json:"points_awarded"`
	ActivityDate  time.Time      `gorm:"not null;index:ix_activities_user_date,priority:2" json:"activity_date"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (Activity) TableName() string { return "activities" }

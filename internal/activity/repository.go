package activity

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, a *Activity) error
	SetPointsAwarded(ctx context.Context, db *gorm.DB, id snowflake.ID, points int64) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Activity, error)
	// ListByUser pages newest first; beforeID of zero starts at the newest.
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID snowflake.ID, limit int) ([]Activity, error)
	Aggregate(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (float64, int64, error)
}

type repo struct{}

func NewRepository() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *Activity) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO activities (id, user_id, activity_type, details, co2_kg, points_awarded, activity_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		a.ActivityType,
		a.Details,
		a.Co2Kg,
		a.PointsAwarded,
		a.ActivityDate,
		a.CreatedAt,
	).Error
}

func (r *repo) SetPointsAwarded(ctx context.Context, db *gorm.DB, id snowflake.ID, points int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE activities SET points_awarded = ? WHERE id = ?`,
		points,
		id,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Activity, error) {
	var a Activity
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, activity_type, details, co2_kg, points_awarded, activity_date, created_at
		 FROM activities WHERE id = ?`,
		id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID snowflake.ID, limit int) ([]Activity, error) {
	stmt := db.WithContext(ctx).Where("user_id = ?", userID)
	if beforeID != 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}
	var items []Activity
	err := stmt.Order("id desc").Limit(limit).Find(&items).Error
	return items, err
}

func (r *repo) Aggregate(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (float64, int64, error) {
	var row struct {
		Co2   float64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(co2_kg), 0) AS co2, COUNT(*) AS count
		 FROM activities
		 WHERE user_id = ? AND activity_date >= ? AND activity_date <= ?`,
		userID,
		from.UTC(),
		to.UTC(),
	).Scan(&row).Error
	return row.Co2, row.Count, err
}

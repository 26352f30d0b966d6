package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/user/domain"
	"github.com/smallbiznis/ecopoints/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const userColumns = `id, email, display_name, country_code, current_streak, longest_streak,
	last_login_date, streak_start_date, total_streak_points, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, user *domain.User) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		user.CountryCode,
		user.CurrentStreak,
		user.LongestStreak,
		user.LastLoginDate,
		user.StreakStartDate,
		user.TotalStreakPoints,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return findUser(ctx, conn, id, false)
}

func (r *repo) LockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return findUser(ctx, tx, id, true)
}

func findUser(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&user).Error; err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) UpdateStreak(ctx context.Context, tx *gorm.DB, id snowflake.ID, state domain.StreakState) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE users
		 SET current_streak = ?,
		     longest_streak = ?,
		     last_login_date = ?,
		     streak_start_date = ?,
		     total_streak_points = total_streak_points + ?,
		     updated_at = ?
		 WHERE id = ?`,
		state.CurrentStreak,
		state.LongestStreak,
		state.LastLoginDate.UTC(),
		state.StreakStartDate.UTC(),
		state.BonusPoints,
		time.Now().UTC(),
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) ListIDs(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT id FROM users WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const entryColumns = `id, user_id, sequence, delta, reason, activity_id, idempotency_key, balance_after, created_at`

func (r *repo) EnsureBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) (bool, error) {
	var users int64
	if err := tx.WithContext(ctx).Raw(`SELECT COUNT(1) FROM users WHERE id = ?`, userID).Scan(&users).Error; err != nil {
		return false, err
	}
	if users == 0 {
		return false, nil
	}
	if err := insertBalance(tx.WithContext(ctx), userID, now).Error; err != nil {
		return false, err
	}
	return true, nil
}

// insertBalance creates the zero balance row unless one exists. The conflict
// clause renders per dialect (ON DUPLICATE KEY on mysql).
func insertBalance(tx *gorm.DB, userID snowflake.ID, now time.Time) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&domain.Balance{UserID: userID, UpdatedAt: now})
}

func (r *repo) ApplyDelta(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta int64, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE point_balances
		 SET balance = balance + ?, entry_count = entry_count + 1, updated_at = ?
		 WHERE user_id = ? AND balance + ? >= 0`,
		delta,
		now,
		userID,
		delta,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Balance, error) {
	var balance domain.Balance
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, entry_count, updated_at FROM point_balances WHERE user_id = ?`,
		userID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.UserID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) InsertEntry(ctx context.Context, tx *gorm.DB, entry *domain.Entry) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO point_ledger_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Sequence,
		entry.Delta,
		entry.Reason,
		entry.ActivityID,
		entry.IdempotencyKey,
		entry.BalanceAfter,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM point_ledger_entries WHERE idempotency_key = ?`,
		key,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeSeq int64, limit int) ([]domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("user_id = ?", userID)
	if beforeSeq > 0 {
		stmt = stmt.Where("sequence < ?", beforeSeq)
	}
	var entries []domain.Entry
	err := stmt.
		Order("sequence desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) SumDeltas(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta), 0) FROM point_ledger_entries
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ?`,
		userID,
		from.UTC(),
		to.UTC(),
	).Scan(&total).Error
	return total, err
}

func (r *repo) LedgerTotals(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta), 0) AS total, COUNT(*) AS count
		 FROM point_ledger_entries WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, 0, err
	}

	var last int64
	err = db.WithContext(ctx).Raw(
		`SELECT balance_after FROM point_ledger_entries
		 WHERE user_id = ? ORDER BY sequence DESC LIMIT 1`,
		userID,
	).Scan(&last).Error
	if err != nil {
		return 0, 0, 0, err
	}
	return row.Total, row.Count, last, nil
}

func (r *repo) UserExists(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&count).Error
	return count > 0, err
}

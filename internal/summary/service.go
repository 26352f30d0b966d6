package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 12

var (
	ErrUserNotFound = userdomain.ErrNotFound
	ErrInvalidUser  = errors.New("invalid_user")
	ErrNotFound     = errors.New("summary_not_found")
)

// ActivityStats aggregates a user's logged activities over an inclusive
// date window.
type ActivityStats interface {
	Aggregate(ctx context.Context, userID snowflake.ID, from, to time.Time) (co2Kg float64, count int64, err error)
}

// PointsSource sums ledger deltas created within an inclusive window.
type PointsSource interface {
	PointsBetween(ctx context.Context, userID snowflake.ID, from, to time.Time) (int64, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Users    userdomain.Repository
	Activity ActivityStats
	Points   PointsSource
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	users    userdomain.Repository
	activity ActivityStats
	points   PointsSource
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("summary.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		users:    p.Users,
		activity: p.Activity,
		points:   p.Points,
	}
}

// Generate computes and upserts the summary of the last completed week
// relative to referenceDate. Rerunning for the same week overwrites totals.
func (s *Service) Generate(ctx context.Context, userID snowflake.ID, referenceDate time.Time) (*WeeklySummary, error) {
	if userID == 0 {
		return nil, ErrInvalidUser
	}
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	weekStart, weekEnd := WeekBounds(referenceDate)
	co2, count, err := s.activity.Aggregate(ctx, userID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("aggregate activities: %w", err)
	}
	points, err := s.points.PointsBetween(ctx, userID, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("sum points: %w", err)
	}
	previousCo2, _, err := s.activity.Aggregate(ctx, userID, weekStart.AddDate(0, 0, -7), weekStart.Add(-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("aggregate previous week: %w", err)
	}

	now := s.clock.Now().UTC()
	row := WeeklySummary{
		ID:            s.genID.Generate(),
		UserID:        userID,
		WeekStart:     weekStart,
		WeekEnd:       weekEnd,
		TotalCo2Kg:    co2,
		TotalPoints:   points,
		ActivityCount: count,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "week_start"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"week_end",
				"total_co2_kg",
				"total_points",
				"activity_count",
				"updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		var stored WeeklySummary
		if err := tx.Where("user_id = ? AND week_start = ?", userID, weekStart).Take(&stored).Error; err != nil {
			return err
		}
		row = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	row.PreviousWeekCo2Kg = previousCo2
	row.Trend = classify(co2, previousCo2)

	logger.WithContext(ctx, s.log).Info("summary.generated",
		zap.String("user_id", userID.String()),
		zap.String("summary_id", row.ID.String()),
		zap.Time("week_start", weekStart),
		zap.Float64("total_co2_kg", co2),
		zap.Int64("total_points", points),
		zap.Int64("activity_count", count),
		zap.String("trend", string(row.Trend)),
	)
	return &row, nil
}

// List returns the user's most recent summaries, newest week first.
func (s *Service) List(ctx context.Context, userID snowflake.ID, limit int) ([]WeeklySummary, error) {
	if userID == 0 {
		return nil, ErrInvalidUser
	}
	if limit <= 0 || limit > 52 {
		limit = defaultListLimit
	}
	var rows []WeeklySummary
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("week_start desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

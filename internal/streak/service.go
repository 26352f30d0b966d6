package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = userdomain.ErrNotFound
	// ErrClockSkew rejects a login dated before the stored last login.
	ErrClockSkew = errors.New("clock_skew")
)

const day = 24 * time.Hour

type AdvanceResult struct {
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`
	// Unchanged is set for a repeated login on the same day.
	Unchanged        bool       `json:"unchanged,omitempty"`
	MilestoneReached *Milestone `json:"milestone_reached,omitempty"`
	PointsAwarded    int64      `json:"points_awarded,omitempty"`
}

type Info struct {
	CurrentStreak     int        `json:"current_streak"`
	LongestStreak     int        `json:"longest_streak"`
	LastLoginDate     *time.Time `json:"last_login_date,omitempty"`
	TotalStreakPoints int64      `json:"total_streak_points"`
	NextMilestone     *Milestone `json:"next_milestone"`
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Users        userdomain.Repository
	Ledger       ledgerdomain.Service
	Gamification *config.GamificationHolder
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	users      userdomain.Repository
	ledger     ledgerdomain.Service
	milestones Milestones
	metrics    *obsmetrics.PointsMetrics
}

func New(p Params) (*Service, error) {
	milestones, err := NewMilestones(p.Gamification.Milestones())
	if err != nil {
		return nil, err
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("streak.service"),
		clock:      p.Clock,
		users:      p.Users,
		ledger:     p.Ledger,
		milestones: milestones,
		metrics:    obsmetrics.Points(),
	}, nil
}

// Login advances the streak for the current UTC day.
func (s *Service) Login(ctx context.Context, userID snowflake.ID) (AdvanceResult, error) {
	return s.Advance(ctx, userID, s.clock.Now())
}

// Advance records a login on today's calendar day (UTC). The user row stays
// locked for the whole computation so concurrent logins cannot double-advance.
func (s *Service) Advance(ctx context.Context, userID snowflake.ID, today time.Time) (AdvanceResult, error) {
	today = truncateDay(today)
	log := logger.WithContext(ctx, s.log).With(zap.String("user_id", userID.String()))

	var (
		result AdvanceResult
		reset  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.LockForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}

		current := user.CurrentStreak
		longest := user.LongestStreak
		start := today

		if user.LastLoginDate != nil {
			last := truncateDay(*user.LastLoginDate)
			elapsed := int(today.Sub(last) / day)
			switch {
			case elapsed < 0:
				log.Warn("streak.clock_skew",
					zap.Time("today", today),
					zap.Time("last_login_date", last),
				)
				return fmt.Errorf("%w: login %s precedes last login %s", ErrClockSkew, today.Format(time.DateOnly), last.Format(time.DateOnly))
			case elapsed == 0:
				result = AdvanceResult{CurrentStreak: current, LongestStreak: longest, Unchanged: true}
				return nil
			case elapsed == 1:
				current++
				start = streakStart(user, today, current)
			default:
				reset = current > 0
				current = 1
			}
		} else {
			current = 1
		}
		longest = max(longest, current)

		result = AdvanceResult{CurrentStreak: current, LongestStreak: longest}

		var bonus int64
		if milestone, ok := s.milestones.Exact(current); ok {
			reached := milestone
			result.MilestoneReached = &reached
			award, err := s.ledger.AwardTx(ctx, tx, ledgerdomain.AwardRequest{
				UserID:         userID,
				Amount:         milestone.Points,
				Reason:         fmt.Sprintf("%d-day streak milestone", milestone.Days),
				IdempotencyKey: milestoneKey(userID, milestone.Days, start),
				Source:         ledgerdomain.SourceStreak,
			})
			switch {
			case err != nil:
				log.Error("streak.milestone.award_failed",
					zap.Int("days", milestone.Days),
					zap.Int64("points", milestone.Points),
					zap.Error(err),
				)
			case award.Replayed:
				log.Info("streak.milestone.already_awarded", zap.Int("days", milestone.Days))
			default:
				bonus = milestone.Points
				result.PointsAwarded = bonus
			}
		}

		return s.users.UpdateStreak(ctx, tx, userID, userdomain.StreakState{
			CurrentStreak:   current,
			LongestStreak:   longest,
			LastLoginDate:   today,
			StreakStartDate: start,
			BonusPoints:     bonus,
		})
	})
	if err != nil {
		return AdvanceResult{}, err
	}

	if result.Unchanged {
		log.Debug("streak.unchanged", zap.Int("current_streak", result.CurrentStreak))
		return result, nil
	}
	if reset {
		s.metrics.IncStreakReset()
	}
	if result.PointsAwarded > 0 {
		s.metrics.IncMilestone(result.MilestoneReached.Days)
		log.Info("streak.milestone.reached",
			zap.Int("days", result.MilestoneReached.Days),
			zap.Int64("points", result.PointsAwarded),
		)
	}
	log.Info("streak.advanced",
		zap.Int("current_streak", result.CurrentStreak),
		zap.Int("longest_streak", result.LongestStreak),
		zap.Bool("reset", reset),
	)
	return result, nil
}

func (s *Service) GetInfo(ctx context.Context, userID snowflake.ID) (Info, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return Info{}, err
	}
	if user == nil {
		return Info{}, ErrUserNotFound
	}
	info := Info{
		CurrentStreak:     user.CurrentStreak,
		LongestStreak:     user.LongestStreak,
		LastLoginDate:     user.LastLoginDate,
		TotalStreakPoints: user.TotalStreakPoints,
	}
	if next, ok := s.milestones.Next(user.CurrentStreak); ok {
		info.NextMilestone = &next
	}
	return info, nil
}

func (s *Service) NextMilestone(currentStreak int) (Milestone, bool) {
	return s.milestones.Next(currentStreak)
}

// streakStart recovers the first day of a continued streak. Rows written
// before the start date was tracked derive it from the streak length.
func streakStart(user *userdomain.User, today time.Time, current int) time.Time {
	if user.StreakStartDate != nil && user.CurrentStreak > 0 {
		return truncateDay(*user.StreakStartDate)
	}
	return today.AddDate(0, 0, -(current - 1))
}

func milestoneKey(userID snowflake.ID, days int, start time.Time) string {
	return fmt.Sprintf("streak:%d:%d:%s", userID, days, start.Format(time.DateOnly))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/jobs"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxActivityTypeLength = 64

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidActivityType = errors.New("invalid_activity_type")
	ErrUserNotFound        = userdomain.ErrNotFound
)

type LogRequest struct {
	UserID       snowflake.ID
	ActivityType string
	Details      emission.Details
	// ActivityDate defaults to today; only the calendar day is kept.
	ActivityDate time.Time
}

type ListRequest struct {
	UserID snowflake.ID
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Activities []Activity `json:"activities"`
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    Repository
	Users   userdomain.Repository
	Catalog *emission.Catalog
	Ledger  ledgerdomain.Service
	Rules   *config.GamificationHolder
	Queue   *jobqueue.Queue
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    Repository
	users   userdomain.Repository
	catalog *emission.Catalog
	ledger  ledgerdomain.Service
	rules   *config.GamificationHolder
	queue   *jobqueue.Queue
}

func New(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("activity.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		users:   p.Users,
		catalog: p.Catalog,
		ledger:  p.Ledger,
		rules:   p.Rules,
		queue:   p.Queue,
	}
}

// Log records an activity with its computed footprint and queues it for
// processing. Points are awarded afterwards on a best-effort basis: an award
// failure is logged and never fails the call.
func (s *Service) Log(ctx context.Context, req LogRequest) (*Activity, error) {
	if req.UserID == 0 {
		return nil, ErrInvalidUser
	}
	activityType := strings.ToLower(strings.TrimSpace(req.ActivityType))
	if activityType == "" || len(activityType) > maxActivityTypeLength {
		return nil, ErrInvalidActivityType
	}
	if req.Details == nil {
		req.Details = emission.Details{}
	}
	details, err := json.Marshal(req.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}

	now := s.clock.Now().UTC()
	day := req.ActivityDate
	if day.IsZero() {
		day = now
	}
	day = day.UTC().Truncate(24 * time.Hour)

	item := Activity{
		ID:           s.genID.Generate(),
		UserID:       req.UserID,
		ActivityType: activityType,
		Details:      datatypes.JSON(details),
		Co2Kg:        s.catalog.Compute(activityType, req.Details),
		ActivityDate: day,
		CreatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.FindByID(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		if err := s.repo.Insert(ctx, tx, &item); err != nil {
			return err
		}
		_, err = s.queue.EnqueueTx(ctx, tx, jobs.Request(jobs.ProcessActivity{
			ActivityID: item.ID,
			UserID:     item.UserID,
		}, jobs.Options{}))
		return err
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("user_id", item.UserID.String()),
		zap.String("activity_id", item.ID.String()),
		zap.String("activity_type", activityType),
	)
	log.Info("activity.logged", zap.Float64("co2_kg", item.Co2Kg))

	item.PointsAwarded = s.award(ctx, log, item, req.Details)
	return &item, nil
}

func (s *Service) award(ctx context.Context, log *zap.Logger, item Activity, details emission.Details) int64 {
	rule, ok := MatchRule(s.rules.PointRules(), item.ActivityType, details)
	if !ok || rule.Points <= 0 {
		return 0
	}
	activityID := item.ID
	result, err := s.ledger.Award(ctx, ledgerdomain.AwardRequest{
		UserID:         item.UserID,
		Amount:         rule.Points,
		Reason:         awardReason(rule, item.ActivityType),
		ActivityID:     &activityID,
		IdempotencyKey: "activity:" + item.ID.String(),
		Source:         ledgerdomain.SourceActivity,
	})
	if err != nil {
		log.Warn("activity.award.failed", zap.Int64("points", rule.Points), zap.Error(err))
		return 0
	}
	if err := s.repo.SetPointsAwarded(ctx, s.db, item.ID, result.Entry.Delta); err != nil {
		log.Warn("activity.points_awarded.update_failed", zap.Error(err))
	}
	return result.Entry.Delta
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*Activity, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, req ListRequest) (ListResponse, error) {
	if req.UserID == 0 {
		return ListResponse{}, ErrInvalidUser
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ListResponse{}, err
	}
	var before snowflake.ID
	if cursor != nil && cursor.ID != "" {
		before, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return ListResponse{}, pagination.ErrInvalidPageToken
		}
	}
	limit := req.Limit()
	items, err := s.repo.ListByUser(ctx, s.db, req.UserID, before, limit+1)
	if err != nil {
		return ListResponse{}, err
	}
	items, info := pagination.Page(items, limit, func(a Activity) pagination.Cursor {
		return pagination.Cursor{ID: a.ID.String()}
	})
	return ListResponse{PageInfo: info, Activities: items}, nil
}

// Aggregate sums CO2 and counts activities dated within [from, to].
func (s *Service) Aggregate(ctx context.Context, userID snowflake.ID, from, to time.Time) (float64, int64, error) {
	return s.repo.Aggregate(ctx, s.db, userID, from, to)
}

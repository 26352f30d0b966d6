package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"github.com/smallbiznis/ecopoints/pkg/db"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *obsmetrics.PointsMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: obsmetrics.Points(),
	}
}

func (s *Service) Award(ctx context.Context, req domain.AwardRequest) (domain.AwardResult, error) {
	var result domain.AwardResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.award(ctx, tx, req)
		return err
	})
	if err != nil {
		return s.replayOnConflict(ctx, s.db, req, err)
	}
	s.recordAward(ctx, req, result)
	return result, nil
}

func (s *Service) AwardTx(ctx context.Context, tx *gorm.DB, req domain.AwardRequest) (domain.AwardResult, error) {
	var result domain.AwardResult
	err := tx.Transaction(func(sp *gorm.DB) error {
		var err error
		result, err = s.award(ctx, sp, req)
		return err
	})
	if err != nil {
		return s.replayOnConflict(ctx, tx, req, err)
	}
	s.recordAward(ctx, req, result)
	return result, nil
}

func (s *Service) award(ctx context.Context, tx *gorm.DB, req domain.AwardRequest) (domain.AwardResult, error) {
	if req.UserID == 0 {
		return domain.AwardResult{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.AwardResult{}, domain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.AwardResult{}, domain.ErrInvalidReason
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return domain.AwardResult{}, err
		}
		if existing != nil {
			return domain.AwardResult{Entry: *existing, Replayed: true}, nil
		}
	}

	entry, err := s.post(ctx, tx, req.UserID, req.Amount, reason, req.ActivityID, key)
	if err != nil {
		return domain.AwardResult{}, err
	}
	return domain.AwardResult{Entry: entry}, nil
}

// replayOnConflict resolves a lost race on the idempotency key by returning
// the entry the winner wrote.
func (s *Service) replayOnConflict(ctx context.Context, conn *gorm.DB, req domain.AwardRequest, err error) (domain.AwardResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || !db.IsDuplicateKeyErr(err) {
		return domain.AwardResult{}, err
	}
	existing, findErr := s.repo.FindByIdempotencyKey(ctx, conn, key)
	if findErr != nil || existing == nil {
		return domain.AwardResult{}, err
	}
	return domain.AwardResult{Entry: *existing, Replayed: true}, nil
}

func (s *Service) recordAward(ctx context.Context, req domain.AwardRequest, result domain.AwardResult) {
	if result.Replayed {
		logger.WithContext(ctx, s.log).Debug("ledger.award.replayed",
			zap.String("user_id", req.UserID.String()),
			zap.String("entry_id", result.Entry.ID.String()),
		)
		return
	}
	source := req.Source
	if source == "" {
		source = domain.SourceManual
	}
	s.metrics.AddAwarded(string(source), result.Entry.Delta)
}

func (s *Service) Spend(ctx context.Context, req domain.SpendRequest) (domain.Entry, error) {
	if req.UserID == 0 {
		return domain.Entry{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.Entry{}, domain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Entry{}, domain.ErrInvalidReason
	}

	var entry domain.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.post(ctx, tx, req.UserID, -req.Amount, reason, nil, "")
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			s.metrics.IncInsufficient()
		}
		return domain.Entry{}, err
	}
	s.metrics.AddSpent(req.Amount)
	return entry, nil
}

func (s *Service) RedeemReward(ctx context.Context, req domain.RedeemRequest) (domain.Entry, error) {
	name := strings.TrimSpace(req.RewardName)
	if name == "" {
		name = strings.TrimSpace(req.RewardID)
	}
	entry, err := s.Spend(ctx, domain.SpendRequest{
		UserID: req.UserID,
		Amount: req.Cost,
		Reason: "Redeemed: " + name,
	})
	if err != nil {
		return domain.Entry{}, err
	}
	logger.WithContext(ctx, s.log).Info("ledger.reward.redeemed",
		zap.String("user_id", req.UserID.String()),
		zap.String("reward_id", req.RewardID),
		zap.Int64("cost", req.Cost),
		zap.Int64("balance_after", entry.BalanceAfter),
	)
	return entry, nil
}

// post moves the maintained balance and appends the matching entry in tx. The
// conditional update holds the balance row lock, so concurrent writers for
// the same user serialize and a debit never sees a stale balance.
func (s *Service) post(ctx context.Context, tx *gorm.DB, userID snowflake.ID, delta int64, reason string, activityID *snowflake.ID, key string) (domain.Entry, error) {
	now := s.clock.Now().UTC()

	exists, err := s.repo.EnsureBalance(ctx, tx, userID, now)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("ensure balance: %w", err)
	}
	if !exists {
		return domain.Entry{}, domain.ErrUserNotFound
	}

	applied, err := s.repo.ApplyDelta(ctx, tx, userID, delta, now)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("apply delta: %w", err)
	}
	if !applied {
		return domain.Entry{}, domain.ErrInsufficientBalance
	}

	balance, err := s.repo.GetBalance(ctx, tx, userID)
	if err != nil {
		return domain.Entry{}, err
	}
	if balance == nil {
		return domain.Entry{}, domain.ErrUserNotFound
	}

	entry := domain.Entry{
		ID:           s.genID.Generate(),
		UserID:       userID,
		Sequence:     balance.EntryCount,
		Delta:        delta,
		Reason:       reason,
		ActivityID:   activityID,
		BalanceAfter: balance.Balance,
		CreatedAt:    now,
	}
	if key != "" {
		entry.IdempotencyKey = &key
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	balance, err := s.repo.GetBalance(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	if balance != nil {
		return balance.Balance, nil
	}
	exists, err := s.repo.UserExists(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrUserNotFound
	}
	return 0, nil
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (domain.HistoryResponse, error) {
	if req.UserID == 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidUser
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.HistoryResponse{}, err
	}
	var beforeSeq int64
	if cursor != nil {
		beforeSeq = cursor.Seq
	}

	limit := req.Limit()
	entries, err := s.repo.ListEntries(ctx, s.db, req.UserID, beforeSeq, limit+1)
	if err != nil {
		return domain.HistoryResponse{}, err
	}
	entries, info := pagination.Page(entries, limit, func(e domain.Entry) pagination.Cursor {
		return pagination.Cursor{Seq: e.Sequence}
	})
	if entries == nil {
		entries = []domain.Entry{}
	}
	return domain.HistoryResponse{PageInfo: info, Entries: entries}, nil
}

func (s *Service) PointsBetween(ctx context.Context, userID snowflake.ID, from, to time.Time) (int64, error) {
	return s.repo.SumDeltas(ctx, s.db, userID, from, to)
}

func (s *Service) Reconcile(ctx context.Context, userID snowflake.ID) (domain.Reconciliation, error) {
	result := domain.Reconciliation{UserID: userID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.repo.GetBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance != nil {
			result.Maintained = balance.Balance
		}
		result.LedgerSum, result.EntryCount, result.LatestAfter, err = s.repo.LedgerTotals(ctx, tx, userID)
		return err
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	if !result.Consistent() {
		logger.WithContext(ctx, s.log).Error("ledger.reconcile.drift",
			zap.String("user_id", userID.String()),
			zap.Int64("maintained", result.Maintained),
			zap.Int64("ledger_sum", result.LedgerSum),
			zap.Int64("latest_balance_after", result.LatestAfter),
		)
	}
	return result, nil
}

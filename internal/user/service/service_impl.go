package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/user/domain"
	"github.com/smallbiznis/ecopoints/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxEmailLength matches the users.email column.
const maxEmailLength = 320

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("user.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(email) > maxEmailLength || !strings.Contains(email, "@") {
		return domain.User{}, domain.ErrInvalidEmail
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country != "" && len(country) != 2 {
		return domain.User{}, domain.ErrInvalidCountry
	}

	now := s.clock.Now().UTC()
	user := domain.User{
		ID:          s.genID.Generate(),
		Email:       email,
		DisplayName: strings.TrimSpace(req.DisplayName),
		CountryCode: country,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, err
	}

	s.log.Info("user.created", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.User, error) {
	if id == 0 {
		return domain.User{}, domain.ErrInvalidID
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *user, nil
}

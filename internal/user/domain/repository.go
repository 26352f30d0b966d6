package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	// FindByID returns nil, nil when the user does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	// LockForUpdate reads the user row holding a row lock until tx ends.
	LockForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*User, error)
	UpdateStreak(ctx context.Context, tx *gorm.DB, id snowflake.ID, state StreakState) error
	// ListIDs pages through user ids in ascending order starting after afterID.
	ListIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}

var (
	ErrNotFound     = errors.New("user_not_found")
	ErrInvalidEmail = errors.New("invalid_email")
)

type CreateUserRequest struct {
	Email       string
	DisplayName string
	CountryCode string
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (User, error)
	Get(ctx context.Context, id snowflake.ID) (User, error)
}

var (
	ErrInvalidID      = errors.New("invalid_user_id")
	ErrInvalidCountry = errors.New("invalid_country_code")
	ErrEmailTaken     = errors.New("email_taken")
)

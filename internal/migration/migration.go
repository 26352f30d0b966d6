package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/summary"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&ledgerdomain.Balance{},
		&ledgerdomain.Entry{},
		&activity.Activity{},
		&summary.WeeklySummary{},
		&jobqueue.Job{},
		&emission.Factor{},
	}
}

// Apply brings the schema up to date and seeds the emission factor table.
// Postgres runs the embedded SQL migrations; other dialects, used for local
// runs and tests, are auto-migrated from the models.
func Apply(ctx context.Context, conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	dialect := conn.Dialector.Name()
	switch dialect {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	default:
		if err := conn.WithContext(ctx).AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	if err := emission.Seed(ctx, conn); err != nil {
		return fmt.Errorf("seed emission factors: %w", err)
	}
	log.Info("migration.applied", zap.String("dialect", dialect))
	return nil
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/ledger"
	"github.com/smallbiznis/ecopoints/internal/lock"
	"github.com/smallbiznis/ecopoints/internal/migration"
	"github.com/smallbiznis/ecopoints/internal/observability"
	"github.com/smallbiznis/ecopoints/internal/ratelimit"
	"github.com/smallbiznis/ecopoints/internal/scheduler"
	"github.com/smallbiznis/ecopoints/internal/server"
	"github.com/smallbiznis/ecopoints/internal/streak"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"github.com/smallbiznis/ecopoints/internal/user"
	"github.com/smallbiznis/ecopoints/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		user.Module,
		ledger.Module,
		streak.Module,
		emission.Module,
		jobqueue.Module,
		activity.Module,
		summary.Module,
		lock.Module,
		ratelimit.Module,
		// TriggerSummary only; the cron loop runs in apps/scheduler.
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

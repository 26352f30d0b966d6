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
	"github.com/smallbiznis/ecopoints/internal/notifier"
	"github.com/smallbiznis/ecopoints/internal/observability"
	"github.com/smallbiznis/ecopoints/internal/providers/email"
	"github.com/smallbiznis/ecopoints/internal/ratelimit"
	"github.com/smallbiznis/ecopoints/internal/scheduler"
	"github.com/smallbiznis/ecopoints/internal/server"
	"github.com/smallbiznis/ecopoints/internal/streak"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"github.com/smallbiznis/ecopoints/internal/user"
	"github.com/smallbiznis/ecopoints/internal/worker"
	"github.com/smallbiznis/ecopoints/pkg/db"
	"go.uber.org/fx"
)

// Single process running the HTTP surface, the worker pool and the cron loop.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		user.Module,
		ledger.Module,
		streak.Module,
		emission.Module,
		jobqueue.Module,
		activity.Module,
		summary.Module,
		email.Module,
		notifier.Module,
		lock.Module,
		ratelimit.Module,

		scheduler.Module,
		scheduler.Runner,
		worker.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

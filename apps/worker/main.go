package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/ledger"
	"github.com/smallbiznis/ecopoints/internal/notifier"
	"github.com/smallbiznis/ecopoints/internal/observability"
	"github.com/smallbiznis/ecopoints/internal/providers/email"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"github.com/smallbiznis/ecopoints/internal/user"
	"github.com/smallbiznis/ecopoints/internal/worker"
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

		user.Module,
		ledger.Module,
		emission.Module,
		jobqueue.Module,
		activity.Module,
		summary.Module,
		email.Module,
		notifier.Module,

		// No server module.
		worker.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

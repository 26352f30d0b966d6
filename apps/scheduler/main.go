package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/clock"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/lock"
	"github.com/smallbiznis/ecopoints/internal/observability"
	"github.com/smallbiznis/ecopoints/internal/scheduler"
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

		user.Module,
		jobqueue.Module,
		lock.Module,
		scheduler.Module,
		scheduler.Runner,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Apply(ctx, conn, log.Named("migration"))
			},
		})
	}),
)

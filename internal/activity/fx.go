package activity

import (
	"github.com/smallbiznis/ecopoints/internal/summary"
	"go.uber.org/fx"
)

var Module = fx.Module("activity.service",
	fx.Provide(NewRepository),
	fx.Provide(New),
	fx.Provide(func(s *Service) summary.ActivityStats { return s }),
)

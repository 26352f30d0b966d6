package streak

import "go.uber.org/fx"

var Module = fx.Module("streak.service",
	fx.Provide(New),
)

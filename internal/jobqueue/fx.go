package jobqueue

import "go.uber.org/fx"

var Module = fx.Module("jobqueue",
	fx.Provide(New),
)

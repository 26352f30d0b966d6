package emission

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("emission",
	fx.Provide(NewCatalog),
	fx.Invoke(registerLoad),
)

func registerLoad(lc fx.Lifecycle, c *Catalog) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Load(ctx)
		},
	})
}

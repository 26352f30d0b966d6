package worker

import (
	"context"
	"time"

	"github.com/smallbiznis/ecopoints/internal/jobs"
	"go.uber.org/fx"
)

var Module = fx.Module("worker",
	fx.Provide(NewHandler),
	fx.Provide(func(h *Handler) jobs.Handler { return h }),
	fx.Provide(New),
	fx.Invoke(registerPool),
)

func registerPool(lc fx.Lifecycle, pool *Pool) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				_ = pool.Run(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			grace := time.NewTimer(pool.cfg.ShutdownGracePeriod)
			defer grace.Stop()
			select {
			case <-done:
			case <-grace.C:
				pool.log.Warn("worker.pool.shutdown_grace_exceeded")
			case <-ctx.Done():
			}
			return nil
		},
	})
}

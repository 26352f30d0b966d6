package summary

import (
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("summary.service",
	fx.Provide(New),
	fx.Provide(func(l ledgerdomain.Service) PointsSource { return l }),
)

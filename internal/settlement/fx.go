package settlement

import (
	"github.com/meetpay/meetpay/internal/config"
	"github.com/meetpay/meetpay/internal/observability/metrics"
	"go.uber.org/fx"
)

// Module wires the settlement orchestrator and its metrics.
var Module = fx.Module("settlement",
	fx.Provide(
		func(cfg config.Config) Config {
			return Config{
				PlatformCut:    cfg.PlatformCut,
				GatewayTimeout: cfg.GatewayTimeout,
			}
		},
		func(cfg config.Config) *metrics.SettlementMetrics {
			return metrics.Settlement(metrics.Config{
				ServiceName: "meetpay",
				Environment: cfg.Environment,
			})
		},
		NewService,
	),
)

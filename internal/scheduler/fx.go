package scheduler

import (
	"context"

	"github.com/meetpay/meetpay/internal/config"
	"go.uber.org/fx"
)

// Module wires the sweeper into the process lifecycle when enabled.
var Module = fx.Module("scheduler",
	fx.Provide(
		func(cfg config.Config) Config {
			return Config{
				Enabled:   cfg.SweeperEnabled,
				Interval:  cfg.SweepInterval,
				BatchSize: cfg.SweepBatchSize,
			}
		},
		NewSweeper,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Sweeper, cfg Config) {
		if !cfg.Enabled {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go s.Run(ctx)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)

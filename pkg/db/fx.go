package db

import (
	"context"

	"github.com/meetpay/meetpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("db",
	fx.Provide(func(cfg config.Config, log *zap.Logger) *Manager {
		return NewManager(Config{
			DSN:            cfg.DatabaseURL,
			RetryBaseDelay: cfg.DatabaseRetryBaseDelay,
		}, log)
	}),
	fx.Provide(func(lc fx.Lifecycle, m *Manager) (*gorm.DB, error) {
		return m.Connect(context.Background())
	}),
)

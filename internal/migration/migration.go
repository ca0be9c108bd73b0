package migration

import (
	"context"

	"github.com/meetpay/meetpay/internal/events"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Bootstrap creates every table the process needs. Mirrors the
// connect-and-ensure-collections step of startup: the process refuses to
// serve before storage is in shape.
func Bootstrap(ctx context.Context, meetings *store.Collection[meeting.Meeting], ledgers *store.Collection[ledger.Ledger], outbox *events.Outbox, log *zap.Logger) error {
	if err := meetings.EnsureTable(ctx); err != nil {
		return err
	}
	if err := ledgers.EnsureTable(ctx); err != nil {
		return err
	}
	if err := outbox.EnsureTable(ctx); err != nil {
		return err
	}
	log.Info("storage bootstrap complete")
	return nil
}

// Module runs the bootstrap during startup.
var Module = fx.Module("migration",
	fx.Invoke(func(lc fx.Lifecycle, meetings *store.Collection[meeting.Meeting], ledgers *store.Collection[ledger.Ledger], outbox *events.Outbox, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Bootstrap(ctx, meetings, ledgers, outbox, log)
			},
		})
	}),
)

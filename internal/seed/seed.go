package seed

import (
	"context"
	"errors"
	"time"

	"github.com/meetpay/meetpay/internal/config"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	demoPayerOwnerID    = "00000000000d0001"
	demoReceiverOwnerID = "00000000000d0002"
)

// EnsureDemoData seeds one payer, one receiver, and a meeting awaiting
// settlement, so a fresh environment has something to settle.
func EnsureDemoData(ctx context.Context, meetings *meeting.Service, ledgers *ledger.Service, log *zap.Logger) error {
	seeded := false
	for _, params := range []ledger.CreateParams{
		{OwnerID: demoPayerOwnerID, Role: ledger.RolePayer, Email: "payer@demo.meetpay.dev", SourceToken: "tok_visa"},
		{OwnerID: demoReceiverOwnerID, Role: ledger.RoleReceiver, Email: "receiver@demo.meetpay.dev", Country: "US"},
	} {
		if _, err := ledgers.Create(ctx, params); err != nil {
			if errors.Is(err, ledger.ErrAlreadyExists) {
				continue
			}
			return err
		}
		seeded = true
	}

	if !seeded {
		return nil
	}

	m := &meeting.Meeting{
		Payer:     meeting.Participant{OwnerID: demoPayerOwnerID, Name: "Demo Payer"},
		Receiver:  meeting.Participant{OwnerID: demoReceiverOwnerID, Name: "Demo Receiver"},
		StartTime: time.Now().Add(-2 * time.Hour).UTC().Unix(),
		Duration:  3600,
		Rate:      100,
		State:     meeting.StateNeedsPayment,
	}
	res, err := meetings.Create(ctx, m)
	if err != nil {
		return err
	}
	if !res.Accepted {
		return errors.New("demo meeting refused: " + res.Reason)
	}
	log.Info("demo data seeded", zap.String("meeting_id", m.ID.String()))
	return nil
}

// Module seeds demo data on startup when enabled.
var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, meetings *meeting.Service, ledgers *ledger.Service, log *zap.Logger) {
		if !cfg.SeedDemoData || cfg.IsProduction() {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return EnsureDemoData(ctx, meetings, ledgers, log)
			},
		})
	}),
)

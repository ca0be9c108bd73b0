package main

import (
	"github.com/meetpay/meetpay/internal/clock"
	"github.com/meetpay/meetpay/internal/config"
	"github.com/meetpay/meetpay/internal/events"
	gatewaystripe "github.com/meetpay/meetpay/internal/gateway/stripe"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/migration"
	"github.com/meetpay/meetpay/internal/notify"
	"github.com/meetpay/meetpay/internal/observability/logger"
	"github.com/meetpay/meetpay/internal/observability/tracing"
	"github.com/meetpay/meetpay/internal/scheduler"
	"github.com/meetpay/meetpay/internal/seed"
	"github.com/meetpay/meetpay/internal/server"
	"github.com/meetpay/meetpay/internal/settlement"
	"github.com/meetpay/meetpay/pkg/db"
	"github.com/meetpay/meetpay/pkg/id"
	"go.uber.org/fx"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		tracing.Module,
		id.Module,
		clock.Module,
		db.Module,
		events.Module,
		gatewaystripe.Module,
		ledger.Module,
		notify.Module,
		meeting.Module,
		settlement.Module,
		migration.Module,
		seed.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

package ledger

import (
	"github.com/bwmarrin/snowflake"
	"github.com/meetpay/meetpay/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module wires the ledger collection and service.
var Module = fx.Module("ledger",
	fx.Provide(
		func(db *gorm.DB, node *snowflake.Node, log *zap.Logger) *store.Collection[Ledger] {
			return store.NewCollection[Ledger](db, node, log, "ledgers", store.WithValidator(Validate))
		},
		NewService,
	),
)

package meeting

import (
	"github.com/bwmarrin/snowflake"
	"github.com/meetpay/meetpay/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module wires the meeting collection and service.
var Module = fx.Module("meeting",
	fx.Provide(
		func(db *gorm.DB, node *snowflake.Node, log *zap.Logger) *store.Collection[Meeting] {
			return store.NewCollection[Meeting](db, node, log, "meetings", store.WithValidator(Validate))
		},
		NewService,
	),
)

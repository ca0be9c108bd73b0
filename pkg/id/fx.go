package id

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Module provides the process-wide snowflake node used for identifier
// generation.
var Module = fx.Module("id",
	fx.Provide(func() (*snowflake.Node, error) {
		return snowflake.NewNode(1)
	}),
)

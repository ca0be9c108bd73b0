package events

import "go.uber.org/fx"

// Module provides the settlement event outbox.
var Module = fx.Module("events",
	fx.Provide(NewOutbox),
)

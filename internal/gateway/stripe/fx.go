package stripe

import (
	"github.com/meetpay/meetpay/internal/config"
	"github.com/meetpay/meetpay/internal/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the Stripe client as both the charge gateway and the
// account provisioner.
var Module = fx.Module("gateway.stripe",
	fx.Provide(
		func(cfg config.Config, log *zap.Logger) *Client {
			return New(Config{SecretKey: cfg.StripeSecretKey}, log)
		},
		func(c *Client) gateway.Gateway { return c },
		func(c *Client) gateway.Accounts { return c },
	),
)

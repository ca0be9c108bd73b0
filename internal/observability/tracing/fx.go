package tracing

import (
	"github.com/meetpay/meetpay/internal/config"
	"go.uber.org/fx"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Module installs the global tracer provider during startup.
var Module = fx.Module("tracing",
	fx.Provide(
		func(cfg config.Config) Config {
			return Config{
				Enabled:          cfg.TracingEnabled,
				ServiceName:      "meetpay",
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.TracingEndpoint,
				ExporterProtocol: cfg.TracingProtocol,
			}
		},
		NewProvider,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

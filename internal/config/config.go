package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
)

// Config carries the process configuration, sourced from the environment.
type Config struct {
	Environment string
	HTTPAddr    string

	DatabaseURL            string
	DatabaseRetryBaseDelay time.Duration

	StripeSecretKey string
	// PlatformCut is the fraction of every charge withheld as the
	// application fee.
	PlatformCut    float64
	GatewayTimeout time.Duration

	// AdminToken guards the operator-facing settle trigger.
	AdminToken string

	// SweeperEnabled turns on the background job that settles meetings
	// left in NEEDS_PAYMENT.
	SweeperEnabled  bool
	SweepInterval   time.Duration
	SweepBatchSize  int
	SeedDemoData    bool
	TracingEnabled  bool
	TracingEndpoint string
	TracingProtocol string
}

// FromEnv reads configuration from the environment with defaults suitable
// for local development.
func FromEnv() Config {
	cfg := Config{
		Environment:            getEnv("MEETPAY_ENV", "development"),
		HTTPAddr:               getEnv("MEETPAY_HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("MEETPAY_DATABASE_URL", "meetpay.db"),
		DatabaseRetryBaseDelay: getDuration("MEETPAY_DB_RETRY_BASE", 10*time.Second),
		StripeSecretKey:        os.Getenv("MEETPAY_STRIPE_SECRET_KEY"),
		PlatformCut:            getFloat("MEETPAY_PLATFORM_CUT", 0.1),
		GatewayTimeout:         getDuration("MEETPAY_GATEWAY_TIMEOUT", 30*time.Second),
		AdminToken:             os.Getenv("MEETPAY_ADMIN_TOKEN"),
		SweeperEnabled:         getBool("MEETPAY_SWEEPER_ENABLED", false),
		SweepInterval:          getDuration("MEETPAY_SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:         getInt("MEETPAY_SWEEP_BATCH_SIZE", 20),
		SeedDemoData:           getBool("MEETPAY_SEED_DEMO_DATA", false),
		TracingEnabled:         getBool("MEETPAY_TRACING_ENABLED", false),
		TracingEndpoint:        os.Getenv("MEETPAY_TRACING_ENDPOINT"),
		TracingProtocol:        getEnv("MEETPAY_TRACING_PROTOCOL", "grpc"),
	}
	return cfg
}

// IsProduction reports whether the process runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

var Module = fx.Module("config",
	fx.Provide(FromEnv),
)

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

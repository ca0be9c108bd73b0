package metrics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every metric.
type Config struct {
	ServiceName string
	Environment string
}

// SettlementMetrics tracks settlement attempts by outcome plus gateway
// latency. Outcome labels match the result outcomes: settled, failed,
// partial, refused.
type SettlementMetrics struct {
	attempts        *prometheus.CounterVec
	gatewayDuration prometheus.Histogram
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics, registering them
// on first use.
func Settlement(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = newSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// ResetSettlementMetricsForTest clears the singleton between test runs.
func ResetSettlementMetricsForTest() {
	settlementMetricsOnce = sync.Once{}
	settlementMetrics = nil
}

func newSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "meetpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "meetpay_settlement_attempts_total",
			Help:        "Settlement attempts by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	gatewayDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "meetpay_gateway_charge_duration_seconds",
			Help:        "Duration of external charge calls.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
	)

	attempts = registerCounterVec(registerer, attempts)
	gatewayDuration = registerHistogram(registerer, gatewayDuration)

	return &SettlementMetrics{
		attempts:        attempts,
		gatewayDuration: gatewayDuration,
	}
}

// ObserveAttempt records one settlement attempt outcome.
func (m *SettlementMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// ObserveGatewayCall records the duration of a charge call.
func (m *SettlementMetrics) ObserveGatewayCall(d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.Observe(d.Seconds())
}

func registerCounterVec(registerer prometheus.Registerer, collector *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, okType := already.ExistingCollector.(*prometheus.CounterVec); okType {
				return existing
			}
		}
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, collector prometheus.Histogram) prometheus.Histogram {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, okType := already.ExistingCollector.(prometheus.Histogram); okType {
				return existing
			}
		}
	}
	return collector
}

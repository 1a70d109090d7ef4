package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetricsRegistry tracks ledger operations and aggregate positions.
type LedgerMetricsRegistry struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	debt       *prometheus.GaugeVec
	collateral *prometheus.GaugeVec
	available  prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetricsRegistry
)

// LedgerMetrics returns the lazily-initialised ledger metrics registry.
func LedgerMetrics() *LedgerMetricsRegistry {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetricsRegistry{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultledger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation, asset and outcome.",
			}, []string{"operation", "asset", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultledger",
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Total failed ledger operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultledger",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including the state commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			debt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vaultledger",
				Subsystem: "ledger",
				Name:      "total_debt",
				Help:      "Outstanding stable debt per collateral registry.",
			}, []string{"asset"}),
			collateral: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vaultledger",
				Subsystem: "ledger",
				Name:      "total_collateral",
				Help:      "Registered collateral per registry in asset units.",
			}, []string{"asset"}),
			available: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultledger",
				Subsystem: "holdings",
				Name:      "available",
				Help:      "Unassigned holdings waiting in the pool.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.debt,
			ledgerRegistry.collateral,
			ledgerRegistry.available,
		)
	})
	return ledgerRegistry
}

// Observe records one ledger operation. reason is the classified failure and
// is ignored when err is nil.
func (m *LedgerMetricsRegistry) Observe(operation, asset string, duration time.Duration, reason string, err error) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation, "unknown")
	asset = normalizeLabel(strings.ToUpper(asset), "none")
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(operation, normalizeLabel(reason, "internal")).Inc()
	}
	m.operations.WithLabelValues(operation, asset, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetTotals publishes the aggregate elastic totals of a registry.
func (m *LedgerMetricsRegistry) SetTotals(asset string, debt, collateral *big.Int) {
	if m == nil {
		return
	}
	asset = normalizeLabel(strings.ToUpper(asset), "none")
	m.debt.WithLabelValues(asset).Set(bigToFloat(debt))
	m.collateral.WithLabelValues(asset).Set(bigToFloat(collateral))
}

// SetAvailableHoldings publishes the size of the pool's free list.
func (m *LedgerMetricsRegistry) SetAvailableHoldings(count uint64) {
	if m == nil {
		return
	}
	m.available.Set(float64(count))
}

func normalizeLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}

package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger operation activity segmented by vault and
// operation.
type LedgerMetrics struct {
	operations  *prometheus.CounterVec
	failures    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	distributed *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strata",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strata",
				Subsystem: "ledger",
				Name:      "failures_total",
				Help:      "Total ledger operation failures segmented by operation.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "strata",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strata",
				Subsystem: "ledger",
				Name:      "yield_distributed_total",
				Help:      "Cumulative yield credited to tranche accumulators, by tranche.",
			}, []string{"vault", "tranche"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.failures,
			ledgerRegistry.latency,
			ledgerRegistry.distributed,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records one ledger operation with its outcome and duration.
func (m *LedgerMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(operation).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddDistributed accumulates the yield credited to one tranche during a
// distribution.
func (m *LedgerMetrics) AddDistributed(vault, tranche string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.distributed.WithLabelValues(vault, tranche).Add(amount)
}

package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the vault's Prometheus instrumentation on a private
// registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Operation counters
	Trades       prometheus.Counter
	Liquidations prometheus.Counter
	Clears       prometheus.Counter
	Settlements  prometheus.Counter
	Deposits     prometheus.Counter
	Withdrawals  prometheus.Counter

	// State gauges
	Accounts         prometheus.Gauge
	OpenPositions    prometheus.Gauge
	InsuranceBalance prometheus.Gauge

	// Premium computation latency
	PremiumSeconds prometheus.Histogram

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New creates metrics under the given namespace.
func New(namespace string, logger log.Logger) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		Trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Total number of trades filled",
		}),
		Liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Total number of liquidation transfers",
		}),
		Clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Total number of accounts cleared into insurance",
		}),
		Settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Total number of settlement calls",
		}),
		Deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Total number of deposits",
		}),
		Withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Total number of withdrawals",
		}),

		Accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Number of accounts with state",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions across all accounts",
		}),
		InsuranceBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "insurance_balance",
			Help:      "Insurance account balance in quote units",
		}),

		PremiumSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "premium_seconds",
			Help:      "Premium computation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.Trades,
		m.Liquidations,
		m.Clears,
		m.Settlements,
		m.Deposits,
		m.Withdrawals,
		m.Accounts,
		m.OpenPositions,
		m.InsuranceBalance,
		m.PremiumSeconds,
		m.memoryUsage,
		m.goroutines,
	)

	return m, nil
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics endpoint until the listener fails.
func (m *Metrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return nil
}

// CollectSystemMetrics samples runtime stats until the context ends.
func (m *Metrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

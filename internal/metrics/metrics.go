// Package metrics wires every component's Prometheus instrumentation
// into one registry (component L, spec.md §4.L), the way the teacher
// wraps a *prometheus.Registry behind a single adapter instead of
// scattering package-level collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "batchcore"

// Metrics holds every collector the driver, indexer, pool cache,
// estimator stack, order-book store and submitter report to.
type Metrics struct {
	registry *prometheus.Registry

	IndexerLagBlocks     prometheus.Gauge
	IndexerReorgsTotal   prometheus.Counter
	PoolCacheHits        prometheus.Counter
	PoolCacheMisses      prometheus.Counter
	EstimatorLatency     *prometheus.HistogramVec
	StoreQueryDuration   *prometheus.HistogramVec
	AuctionAgeSeconds    prometheus.Gauge
	AuctionOrderCount    prometheus.Gauge
	SimulationOutcomes   *prometheus.CounterVec
	SubmitterGasPrice    prometheus.Gauge
	SubmitterNonce       prometheus.Gauge
	SettlementsSubmitted prometheus.Counter
	SettlementsConfirmed prometheus.Counter
	SettlementsReverted  prometheus.Counter
	DriverTicks          prometheus.Counter
}

// New builds a Metrics instance and registers every collector against
// reg. Pass prometheus.NewRegistry() for tests, or
// prometheus.DefaultRegisterer.(*prometheus.Registry) in production so
// /metrics also serves the Go runtime collectors promauto registers
// globally.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		IndexerLagBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "lag_blocks",
			Help: "blocks behind chain head the event indexer has processed",
		}),
		IndexerReorgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "reorgs_total",
			Help: "number of reorgs the indexer has rolled back and replayed",
		}),
		PoolCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool_cache", Name: "hits_total",
		}),
		PoolCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool_cache", Name: "misses_total",
		}),
		EstimatorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "priceest", Name: "latency_seconds",
			Help: "per-source price estimation latency", Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		StoreQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "orderbook", Name: "query_duration_seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		AuctionAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "auction", Name: "age_seconds",
		}),
		AuctionOrderCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "auction", Name: "order_count",
		}),
		SimulationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "simulate", Name: "outcomes_total",
		}, []string{"solver", "success"}),
		SubmitterGasPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "submit", Name: "gas_price_wei",
		}),
		SubmitterNonce: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "submit", Name: "nonce",
		}),
		SettlementsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "settlement", Name: "submitted_total",
		}),
		SettlementsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "settlement", Name: "confirmed_total",
		}),
		SettlementsReverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "settlement", Name: "reverted_total",
		}),
		DriverTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "driver", Name: "ticks_total",
		}),
	}

	reg.MustRegister(
		m.IndexerLagBlocks, m.IndexerReorgsTotal,
		m.PoolCacheHits, m.PoolCacheMisses,
		m.EstimatorLatency, m.StoreQueryDuration,
		m.AuctionAgeSeconds, m.AuctionOrderCount,
		m.SimulationOutcomes,
		m.SubmitterGasPrice, m.SubmitterNonce,
		m.SettlementsSubmitted, m.SettlementsConfirmed, m.SettlementsReverted,
		m.DriverTicks,
	)
	return m
}

// Registry exposes the underlying registry for mounting /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics aggregates the marketplace counters exported to Prometheus.
type MarketMetrics struct {
	listingsCreated   prometheus.Counter
	interestsCreated  prometheus.Counter
	dealTransitions   *prometheus.CounterVec
	operationFailures *prometheus.CounterVec
	settlementVolume  prometheus.Counter
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide marketplace metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			listingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_listings_created_total",
				Help: "Count of listings published.",
			}),
			interestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_interests_created_total",
				Help: "Count of buyer interest profiles published.",
			}),
			dealTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_deal_transitions_total",
				Help: "Count of deal state transitions by resulting status.",
			}, []string{"status"}),
			operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_operation_failures_total",
				Help: "Count of rejected marketplace operations by method.",
			}, []string{"method"}),
			settlementVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_settlement_volume_total",
				Help: "Cumulative settled deal value in base units.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.listingsCreated,
			marketRegistry.interestsCreated,
			marketRegistry.dealTransitions,
			marketRegistry.operationFailures,
			marketRegistry.settlementVolume,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveListingCreated() {
	if m == nil {
		return
	}
	m.listingsCreated.Inc()
}

func (m *MarketMetrics) ObserveInterestCreated() {
	if m == nil {
		return
	}
	m.interestsCreated.Inc()
}

func (m *MarketMetrics) ObserveDealTransition(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.dealTransitions.WithLabelValues(status).Inc()
}

func (m *MarketMetrics) ObserveOperationFailure(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.operationFailures.WithLabelValues(method).Inc()
}

// ObserveSettlement records the value moved to a seller during settlement.
func (m *MarketMetrics) ObserveSettlement(amount float64) {
	if m == nil || amount < 0 {
		return
	}
	m.settlementVolume.Add(amount)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// POSMetrics holds the Prometheus collectors for the posting engine. Each
// instance owns its registry so tests can build as many as they need.
type POSMetrics struct {
	registry *prometheus.Registry

	SalesTotal           *prometheus.CounterVec
	StockCompensations   *prometheus.CounterVec
	LoyaltyAccruals      *prometheus.CounterVec
	InventoryAdjustments *prometheus.CounterVec
	SettingsCacheHits    prometheus.Counter
	SettingsCacheMisses  prometheus.Counter
	PostSaleDuration     prometheus.Histogram
}

func New() *POSMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &POSMetrics{
		registry: reg,
		SalesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "sales_total",
			Help:      "Sale postings by outcome.",
		}, []string{"outcome"}), // outcome: completed, due, rejected_stock, rejected_payment, rejected_other, failed
		StockCompensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "stock_compensations_total",
			Help:      "Stock re-increments issued while rolling back a sale.",
		}, []string{"result"}), // result: ok, error
		LoyaltyAccruals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "loyalty_accruals_total",
			Help:      "Loyalty accrual attempts by result.",
		}, []string{"result"}), // result: applied, failed, retried
		InventoryAdjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "inventory_adjustments_total",
			Help:      "Manual inventory adjustments by result.",
		}, []string{"result"}), // result: ok, rejected
		SettingsCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "retailpos",
			Subsystem: "settings_cache",
			Name:      "hits_total",
			Help:      "Tenant settings served from cache.",
		}),
		SettingsCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "retailpos",
			Subsystem: "settings_cache",
			Name:      "misses_total",
			Help:      "Tenant settings loaded from the store.",
		}),
		PostSaleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "retailpos",
			Name:      "post_sale_duration_seconds",
			Help:      "Wall time of a sale posting, including compensation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *POSMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

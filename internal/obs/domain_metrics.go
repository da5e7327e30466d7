package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SaleCheckoutTotal counts checkout attempts by payment method and outcome.
	SaleCheckoutTotal *prometheus.CounterVec
	// SaleGrandTotal records the grand total of finalized sales in rupiah.
	SaleGrandTotal prometheus.Histogram
	// SaleTotalDrift counts stored totals that disagreed with a recomputation.
	SaleTotalDrift *prometheus.CounterVec
	// SaleEditTotal counts sale-item edits by outcome.
	SaleEditTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SaleCheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_checkout_total",
			Help:      "Count of checkout outcomes.",
		}, []string{"payment_method", "result"})
		SaleGrandTotal = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_grand_total_rupiah",
			Help:      "Grand total of finalized sales in rupiah.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 4, 8),
		})
		SaleTotalDrift = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_total_drift_total",
			Help:      "Count of stored sale totals that differed from the recomputed total.",
		}, []string{"source"})
		SaleEditTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_edit_total",
			Help:      "Count of sale item edit outcomes.",
		}, []string{"result"})

		mustRegisterCollector(reg, SaleCheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SaleCheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, SaleGrandTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				SaleGrandTotal = v
			}
		})
		mustRegisterCollector(reg, SaleTotalDrift, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SaleTotalDrift = v
			}
		})
		mustRegisterCollector(reg, SaleEditTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SaleEditTotal = v
			}
		})
	})
}

// RecordCheckout tracks a checkout outcome. Safe to call before registration.
func RecordCheckout(method, result string, total float64) {
	if SaleCheckoutTotal != nil {
		SaleCheckoutTotal.WithLabelValues(method, result).Inc()
	}
	if result == "ok" && SaleGrandTotal != nil {
		SaleGrandTotal.Observe(total)
	}
}

// RecordDrift counts a stored-vs-recomputed mismatch seen by source.
func RecordDrift(source string) {
	if SaleTotalDrift != nil {
		SaleTotalDrift.WithLabelValues(source).Inc()
	}
}

// RecordEdit tracks a sale edit outcome.
func RecordEdit(result string) {
	if SaleEditTotal != nil {
		SaleEditTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}

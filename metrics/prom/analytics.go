package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shortenly/core/analytics"
)

// NewAnalyticsCollector registers counters tracking the analytics
// pipeline's cumulative dropped-event and flushed-batch totals, both of
// which the Pipeline already tracks internally — this just exposes them.
func NewAnalyticsCollector(reg prometheus.Registerer, p *analytics.Pipeline, ns, sub string) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "analytics_dropped_total",
		Help:      "Click events dropped due to ring buffer backpressure",
	}, func() float64 { return float64(p.Dropped()) })

	batches := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "analytics_batches_flushed_total",
		Help:      "Per-code LPushBatch calls issued by the flusher",
	}, func() float64 { return float64(p.BatchesFlushed()) })

	reg.MustRegister(dropped, batches)
}

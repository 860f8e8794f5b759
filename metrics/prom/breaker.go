package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shortenly/core/breaker"
)

// BreakerCollector exports one state gauge per endpoint a *breaker.Breaker
// tracks. It implements prometheus.Collector directly (rather than a
// fixed set of pre-registered metrics, as Adapter does for tier.Metrics)
// because each endpoint's state changes between scrapes: the endpoints and
// their states are read fresh from the Breaker on every scrape.
type BreakerCollector struct {
	br    *breaker.Breaker
	state *prometheus.Desc
}

// NewBreakerCollector builds a collector over br. Register it with a
// prometheus.Registerer the same way Adapter is registered.
func NewBreakerCollector(br *breaker.Breaker, ns, sub string) *BreakerCollector {
	return &BreakerCollector{
		br: br,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "breaker_state"),
			"Circuit breaker state per endpoint: 0=closed, 1=half_open, 2=open",
			[]string{"endpoint"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ep := range c.br.Endpoints() {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(stateValue(ep.State())), ep.Name())
	}
}

func stateValue(s breaker.State) int {
	switch s {
	case breaker.Closed:
		return 0
	case breaker.HalfOpen:
		return 1
	case breaker.Open:
		return 2
	default:
		return -1
	}
}

var _ prometheus.Collector = (*BreakerCollector)(nil)

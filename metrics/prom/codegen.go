package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shortenly/core/codegen"
)

// NewCodegenCollector registers a counter tracking the generator's total
// issued codes. Unlike Adapter's push-style counters, Issued() is already
// a cumulative total the generator tracks itself, so this is read on
// every scrape via prometheus.NewCounterFunc rather than incremented from
// call sites.
func NewCodegenCollector(reg prometheus.Registerer, gen *codegen.Generator, ns, sub string) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "codegen_issued_total",
		Help:      "Total codes issued by the generator",
	}, func() float64 { return float64(gen.Issued()) })
	reg.MustRegister(c)
}

package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shortenly/core/bloom"
)

// BloomCollector exports the filter's fill ratio, the operational signal
// that it was undersized for the number of keys actually inserted.
type BloomCollector struct {
	f         *bloom.Filter
	fillRatio *prometheus.Desc
}

// NewBloomCollector builds a collector over f.
func NewBloomCollector(f *bloom.Filter, ns, sub string) *BloomCollector {
	return &BloomCollector{
		f: f,
		fillRatio: prometheus.NewDesc(
			prometheus.BuildFQName(ns, sub, "bloom_fill_ratio"),
			"Fraction of bloom filter bits currently set, across all shards",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *BloomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fillRatio
}

// Collect implements prometheus.Collector.
func (c *BloomCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.fillRatio, prometheus.GaugeValue, c.f.FillRatio())
}

var _ prometheus.Collector = (*BloomCollector)(nil)

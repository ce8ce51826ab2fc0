package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports Engine aggregates as Prometheus metrics. It reads a
// snapshot on every scrape and never resets the engine.
type Collector struct {
	engine *Engine

	calls   *prometheus.Desc
	total   *prometheus.Desc
	minimum *prometheus.Desc
	maximum *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for engine under namespace.
func NewCollector(engine *Engine, namespace string) *Collector {
	labels := []string{"metric", "scope"}
	return &Collector{
		engine: engine,
		calls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "metric", "calls_total"),
			"Number of recorded observations", labels, nil),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "metric", "seconds_total"),
			"Total recorded time in seconds", labels, nil),
		minimum: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "metric", "min_seconds"),
			"Shortest recorded observation in seconds", labels, nil),
		maximum: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "metric", "max_seconds"),
			"Longest recorded observation in seconds", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.total
	ch <- c.minimum
	ch <- c.maximum
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for k, s := range c.engine.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.CallCount), k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, s.TotalSeconds, k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(c.minimum, prometheus.GaugeValue, s.MinSeconds, k.Name, k.Scope)
		ch <- prometheus.MustNewConstMetric(c.maximum, prometheus.GaugeValue, s.MaxSeconds, k.Name, k.Scope)
	}
}

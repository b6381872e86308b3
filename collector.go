package refmap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// statsSource is satisfied by every *Map instantiation.
type statsSource interface {
	Stats() *MapStats
}

type statsCollector struct {
	m statsSource

	segments  *prometheus.Desc
	buckets   *prometheus.Desc
	counter   *prometheus.Desc
	entries   *prometheus.Desc
	stale     *prometheus.Desc
	maxChain  *prometheus.Desc
	growths   *prometheus.Desc
	purged    *prometheus.Desc
	reclaimed *prometheus.Desc
}

// NewStatsCollector creates a Prometheus collector reporting Stats of m,
// labelled with map=name. Each scrape walks the whole map.
func NewStatsCollector[K comparable, V any](m *Map[K, V], name string) prometheus.Collector {
	labels := prometheus.Labels{"map": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("refmap", "", metric), help, nil, labels)
	}
	return &statsCollector{
		m:         m,
		segments:  desc("segments", "Number of segments."),
		buckets:   desc("buckets", "Total bucket array length over all segments."),
		counter:   desc("counter", "Sum of segment counters, including unpurged severed references."),
		entries:   desc("entries", "Live entries found by walking the chains."),
		stale:     desc("stale_references", "Severed references still linked in a chain."),
		maxChain:  desc("max_chain_length", "Longest bucket chain."),
		growths:   desc("growths_total", "Bucket array doublings."),
		purged:    desc("purged_total", "Severed references discounted by purges."),
		reclaimed: desc("reclaimed_total", "References severed by the reclaimer."),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segments
	ch <- c.buckets
	ch <- c.counter
	ch <- c.entries
	ch <- c.stale
	ch <- c.maxChain
	ch <- c.growths
	ch <- c.purged
	ch <- c.reclaimed
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.m.Stats()
	ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(stats.Segments))
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue, float64(stats.TotalBuckets))
	ch <- prometheus.MustNewConstMetric(c.counter, prometheus.GaugeValue, float64(stats.Counter))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, float64(stats.Stale))
	ch <- prometheus.MustNewConstMetric(c.maxChain, prometheus.GaugeValue, float64(stats.MaxEntries))
	ch <- prometheus.MustNewConstMetric(c.growths, prometheus.CounterValue, float64(stats.TotalGrowths))
	ch <- prometheus.MustNewConstMetric(c.purged, prometheus.CounterValue, float64(stats.TotalPurged))
	ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue, float64(stats.TotalReclaimed))
}

var _ prometheus.Collector = new(statsCollector)

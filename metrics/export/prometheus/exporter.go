package prometheus

import (
	"net/http"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() marketauth.MetricsSnapshot
	AuditDropped() uint64
	AuditFailed() uint64
}

// Collector adapts an engine's metrics snapshot to the prometheus.Collector
// interface. Values are read on every scrape; nothing is cached.
type Collector struct {
	source       metricsSource
	counters     []*prometheus.Desc
	histograms   []*prometheus.Desc
	auditDropped *prometheus.Desc
	auditFailed  *prometheus.Desc
}

// NewCollector creates a Collector that reads from the given [marketauth.Engine].
func NewCollector(engine *marketauth.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource creates a Collector from any value exposing an
// engine-shaped snapshot.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counters:     make([]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms:   make([]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		auditFailed:  prometheus.NewDesc(internaldefs.AuditFailedName, internaldefs.AuditFailedHelp, nil, nil),
	}
	for i, def := range internaldefs.CounterDefs {
		c.counters[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		c.histograms[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.auditDropped
	ch <- c.auditFailed
}

// Collect implements prometheus.Collector. Histograms are only emitted when
// latency histograms are enabled on the engine.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}

	snapshot := c.source.MetricsSnapshot()
	for i, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(c.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, upper := range internaldefs.HistogramUpperBounds {
			buckets[upper] = cumulative[j]
		}
		// The engine does not track a latency sum.
		ch <- prometheus.MustNewConstHistogram(c.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
	ch <- prometheus.MustNewConstMetric(c.auditFailed, prometheus.CounterValue, float64(c.source.AuditFailed()))
}

// Exporter owns a private registry holding one Collector.
type Exporter struct {
	registry  *prometheus.Registry
	collector *Collector
}

// NewExporter registers a Collector for engine on a fresh registry.
func NewExporter(engine *marketauth.Engine) (*Exporter, error) {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource is NewExporter for a custom snapshot source.
func NewExporterFromSource(source metricsSource) (*Exporter, error) {
	reg := prometheus.NewRegistry()
	c := NewCollectorFromSource(source)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return &Exporter{registry: reg, collector: c}, nil
}

// Registry exposes the exporter's registry so callers can add process or Go
// runtime collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

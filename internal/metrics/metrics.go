package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "barfeed"

// Metrics holds the ingestion collectors.
type Metrics struct {
	reg prometheus.Gatherer

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	targetErrors  *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	barsMerged    *prometheus.CounterVec
	watermark     *prometheus.GaugeVec
	corruptFiles  *prometheus.CounterVec
	mirrorErrors  prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: g,
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed poll cycles.",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		targetErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_errors_total",
			Help:      "Failed target steps by error kind.",
		}, []string{"key", "kind"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_skipped_total",
			Help:      "Targets skipped without a write, by reason.",
		}, []string{"key", "reason"}),
		barsMerged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_merged_total",
			Help:      "Bars added to or replaced in persisted series.",
		}, []string{"key", "op"}),
		watermark: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix time of the last persisted bar.",
		}, []string{"key"}),
		corruptFiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_files_total",
			Help:      "Persisted files quarantined as undecodable.",
		}, []string{"key"}),
		mirrorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failed writes to the database mirror.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// TargetError counts a failed target step.
func (m *Metrics) TargetError(key, kind string) {
	if m == nil {
		return
	}
	m.targetErrors.WithLabelValues(key, kind).Inc()
}

// Skipped counts a target that finished without writing.
func (m *Metrics) Skipped(key, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(key, reason).Inc()
}

// Merged counts added and replaced bars.
func (m *Metrics) Merged(key string, added, replaced int) {
	if m == nil {
		return
	}
	m.barsMerged.WithLabelValues(key, "added").Add(float64(added))
	m.barsMerged.WithLabelValues(key, "replaced").Add(float64(replaced))
}

// SetWatermark publishes the last persisted timestamp.
func (m *Metrics) SetWatermark(key string, t time.Time) {
	if m == nil {
		return
	}
	m.watermark.WithLabelValues(key).Set(float64(t.Unix()))
}

// Corrupt counts a quarantined file.
func (m *Metrics) Corrupt(key string) {
	if m == nil {
		return
	}
	m.corruptFiles.WithLabelValues(key).Inc()
}

// MirrorError counts a failed mirror write.
func (m *Metrics) MirrorError() {
	if m == nil {
		return
	}
	m.mirrorErrors.Inc()
}

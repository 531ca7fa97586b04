// Package metrics exports worker metrics in Prometheus format.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as the "status" label.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusHandshake = "handshake"
)

// Exporter records worker metrics. A nil *Exporter is valid and records nothing.
type Exporter struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency prometheus.Histogram

	labelerLatency *prometheus.HistogramVec
	labelerErrors  *prometheus.CounterVec
	wordsLabeled   *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// Config configures the exporter.
type Config struct {
	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewExporter creates an exporter and registers its collectors.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := prometheus.NewRegistry()
	e := &Exporter{registry: registry}

	e.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punctuator",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Total number of processed request lines",
		},
		[]string{"status"},
	)

	e.requestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "punctuator",
			Subsystem: "worker",
			Name:      "request_latency_seconds",
			Help:      "Time from reading a request line to writing its response",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.labelerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "punctuator",
			Subsystem: "labeler",
			Name:      "predict_latency_seconds",
			Help:      "Labeler prediction latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"labeler"},
	)

	e.labelerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punctuator",
			Subsystem: "labeler",
			Name:      "errors_total",
			Help:      "Total number of failed predictions",
		},
		[]string{"labeler"},
	)

	e.wordsLabeled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "punctuator",
			Subsystem: "labeler",
			Name:      "words_total",
			Help:      "Total number of words labeled",
		},
		[]string{"labeler"},
	)

	e.cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "punctuator",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of label cache hits",
		},
	)

	e.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "punctuator",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of label cache misses",
		},
	)

	registry.MustRegister(
		e.requests,
		e.requestLatency,
		e.labelerLatency,
		e.labelerErrors,
		e.wordsLabeled,
		e.cacheHits,
		e.cacheMisses,
	)

	return e
}

// RecordRequest records one processed request line.
func (e *Exporter) RecordRequest(status string, latency time.Duration) {
	if e == nil {
		return
	}
	e.requests.WithLabelValues(status).Inc()
	e.requestLatency.Observe(latency.Seconds())
}

// RecordPrediction records one labeler call.
func (e *Exporter) RecordPrediction(labeler string, words int, latency time.Duration, err error) {
	if e == nil {
		return
	}
	e.labelerLatency.WithLabelValues(labeler).Observe(latency.Seconds())
	if err != nil {
		e.labelerErrors.WithLabelValues(labeler).Inc()
		return
	}
	e.wordsLabeled.WithLabelValues(labeler).Add(float64(words))
}

// RecordCacheHit records a label cache hit.
func (e *Exporter) RecordCacheHit() {
	if e == nil {
		return
	}
	e.cacheHits.Inc()
}

// RecordCacheMiss records a label cache miss.
func (e *Exporter) RecordCacheMiss() {
	if e == nil {
		return
	}
	e.cacheMisses.Inc()
}

// Handler returns the HTTP handler serving the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ExportText renders counters and gauges as "name{labels} value" lines, sorted,
// for diagnostics at shutdown.
func (e *Exporter) ExportText() (string, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return "", err
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}

			var sb strings.Builder
			sb.WriteString(mf.GetName())
			if len(m.GetLabel()) > 0 {
				labels := make([]string, 0, len(m.GetLabel()))
				for _, l := range m.GetLabel() {
					labels = append(labels, l.GetName()+"=\""+l.GetValue()+"\"")
				}
				sort.Strings(labels)
				sb.WriteString("{" + strings.Join(labels, ",") + "}")
			}
			sb.WriteString(" ")
			sb.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
			lines = append(lines, sb.String())
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

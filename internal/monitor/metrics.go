package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the monitor.
type Metrics struct {
	registry       *prometheus.Registry
	messages       *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	reloads        *prometheus.CounterVec
	previews       *prometheus.CounterVec
	channels       prometheus.Gauge
	invalidRules   prometheus.Gauge
	reloadDuration prometheus.Histogram
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgwatch",
			Name:      "messages_total",
			Help:      "Inbound messages by evaluation outcome",
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgwatch",
			Name:      "alerts_total",
			Help:      "Alerts handed to the sender by result",
		}, []string{"result"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgwatch",
			Name:      "reloads_total",
			Help:      "Ruleset reloads by result",
		}, []string{"result"}),
		previews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgwatch",
			Name:      "previews_total",
			Help:      "Page preview fetches by result",
		}, []string{"result"}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tgwatch",
			Name:      "channels",
			Help:      "Channels with a loaded ruleset",
		}),
		invalidRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tgwatch",
			Name:      "invalid_rules",
			Help:      "Loaded rules whose regex failed to compile",
		}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tgwatch",
			Name:      "reload_duration_seconds",
			Help:      "Time taken to rebuild all rulesets",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.messages,
		m.alerts,
		m.reloads,
		m.previews,
		m.channels,
		m.invalidRules,
		m.reloadDuration,
	)
	return m
}

// Handler exposes the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

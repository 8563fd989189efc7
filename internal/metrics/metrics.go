// Package metrics provides Prometheus instrumentation for the moderation
// service: verdict counters, bans, check latency and open streams.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. Collectors are registered on the
// registry passed to New so independent instances never collide.
type Metrics struct {
	// Verdicts counts checked messages, labeled by category ("" when clean)
	// and severity.
	Verdicts *prometheus.CounterVec

	// Bans counts bans imposed, labeled by source: "engine" or "streamer".
	Bans *prometheus.CounterVec

	// Throttled counts messages rejected by the rate limiter.
	Throttled prometheus.Counter

	// CheckLatency records moderation check latency in seconds.
	CheckLatency prometheus.Histogram

	// OpenStreams tracks the current number of streams with moderation state.
	OpenStreams prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg means a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_verdicts_total",
			Help: "Total number of moderation verdicts",
		}, []string{"category", "severity"}),

		Bans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_bans_total",
			Help: "Total number of bans imposed",
		}, []string{"source"}), // source = "engine", "streamer"

		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_throttled_total",
			Help: "Messages rejected by the chat rate limit",
		}),

		CheckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_check_latency_seconds",
			Help:    "Moderation check latency in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .005, .01, .025, .05, .1},
		}),

		OpenStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moderation_open_streams",
			Help: "Current number of streams with moderation state",
		}),

		gatherer: reg,
	}
	reg.MustRegister(
		m.Verdicts,
		m.Bans,
		m.Throttled,
		m.CheckLatency,
		m.OpenStreams,
	)
	return m
}

// ObserveVerdict records one checked message.
func (m *Metrics) ObserveVerdict(category string, severity int, elapsed time.Duration) {
	m.Verdicts.WithLabelValues(category, strconv.Itoa(severity)).Inc()
	m.CheckLatency.Observe(elapsed.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

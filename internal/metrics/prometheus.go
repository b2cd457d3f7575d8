// Package metrics records API, evaluation and feed telemetry to Prometheus or
// CloudWatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hyperlocal/internal/engine"
	"hyperlocal/internal/types"
)

const metricPrefix = "hyperlocal_"

// PrometheusCollector owns its registry so several collectors can coexist
// in tests.
type PrometheusCollector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	evaluations     *prometheus.CounterVec
	evalLatency     prometheus.Histogram
	transitions     *prometheus.CounterVec
	samplesIngested *prometheus.CounterVec
	feedFetches     *prometheus.CounterVec
}

// NewPrometheusCollector constructs and registers the collectors.
func NewPrometheusCollector() *PrometheusCollector {
	c := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "api_requests_total",
				Help: "Total API requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "api_request_duration_seconds",
				Help:    "API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_evaluations_total",
				Help: "Trigger evaluations by outcome",
			},
			[]string{"outcome"},
		),
		evalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "trigger_evaluation_duration_seconds",
			Help:    "Per-trigger evaluation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "streak_transitions_total",
				Help: "Streak phase transitions",
			},
			[]string{"from", "to"},
		),
		samplesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_ingested_total",
				Help: "Forecast samples accepted by source",
			},
			[]string{"source"},
		),
		feedFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_fetches_total",
				Help: "Upstream forecast fetches by result",
			},
			[]string{"result"},
		),
	}
	c.registry.MustRegister(
		c.requests,
		c.requestLatency,
		c.evaluations,
		c.evalLatency,
		c.transitions,
		c.samplesIngested,
		c.feedFetches,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *PrometheusCollector) RecordRequest(method, route, status string, d time.Duration) {
	c.requests.WithLabelValues(method, route, status).Inc()
	c.requestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *PrometheusCollector) ObserveEvaluation(outcome engine.Outcome, d time.Duration) {
	c.evaluations.WithLabelValues(string(outcome)).Inc()
	c.evalLatency.Observe(d.Seconds())
}

func (c *PrometheusCollector) ObserveTransition(from, to types.StreakPhase) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *PrometheusCollector) RecordIngest(source string, n int) {
	c.samplesIngested.WithLabelValues(source).Add(float64(n))
}

func (c *PrometheusCollector) RecordFeedFetch(result string) {
	c.feedFetches.WithLabelValues(result).Inc()
}

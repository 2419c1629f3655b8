// Package metrics exposes fraudguard's Prometheus metrics.
//
// Metrics (namespace defaults to "fraudguard"):
//   - rule_evaluations_total{rule_id,outcome}: rule evaluations, outcome is "match" or "no_match"
//   - rule_evaluation_duration_seconds{rule_id}: time spent evaluating one rule
//   - rule_compile_failures_total{code}: rules rejected at compile time, by DSL error code
//   - decisions_total{status}: transaction decisions by status
//   - http_requests_total{method,route,status}: HTTP requests served
//   - http_request_duration_seconds{method,route}: HTTP request latency
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Collector owns a registry and every fraudguard metric. It implements
// rules.Recorder and decision.Recorder.
type Collector struct {
	registry *prometheus.Registry

	ruleEvaluations *prometheus.CounterVec
	ruleDuration    *prometheus.HistogramVec
	compileFailures *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewCollector registers all metrics on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector(cfg domain.MetricsConfig) *Collector {
	ns := cfg.Namespace
	if ns == "" {
		ns = "fraudguard"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rule_evaluations_total",
			Help:      "Total number of rule evaluations by outcome.",
		}, []string{"rule_id", "outcome"}),
		ruleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "rule_evaluation_duration_seconds",
			Help:      "Duration of a single rule evaluation in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10), // 1µs to ~260ms
		}, []string{"rule_id"}),
		compileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rule_compile_failures_total",
			Help:      "Rules rejected at compile time, by DSL error code.",
		}, []string{"code"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "decisions_total",
			Help:      "Transaction decisions by status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.ruleEvaluations,
		c.ruleDuration,
		c.compileFailures,
		c.decisions,
		c.httpRequests,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRule records one rule evaluation.
func (c *Collector) ObserveRule(ruleID string, matched bool, d time.Duration) {
	outcome := "no_match"
	if matched {
		outcome = "match"
	}
	c.ruleEvaluations.WithLabelValues(ruleID, outcome).Inc()
	c.ruleDuration.WithLabelValues(ruleID).Observe(d.Seconds())
}

// CompileFailed records a rule rejected with the given DSL error code.
func (c *Collector) CompileFailed(code string) {
	c.compileFailures.WithLabelValues(code).Inc()
}

// ObserveDecision records a transaction decision.
func (c *Collector) ObserveDecision(status string) {
	c.decisions.WithLabelValues(status).Inc()
}

// ObserveRequest records a served HTTP request. route is the chi route
// pattern, not the raw path.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

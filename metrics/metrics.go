// Package metrics exposes Prometheus collectors for generation stages, LLM calls,
// sessions and deployments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forge"

// Collector holds the collectors of one process. All methods are safe on a nil receiver
// so callers that do not care about metrics can pass nil.
type Collector struct {
	registry *prometheus.Registry

	StageDuration  *prometheus.HistogramVec
	LLMRequests    *prometheus.CounterVec
	LLMDuration    *prometheus.HistogramVec
	SessionsActive prometheus.Gauge
	Deployments    *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of generation stages by mode, stage and outcome",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode", "stage", "outcome"},
	)

	c.LLMRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of backend calls by backend, task and outcome",
		},
		[]string{"backend", "task", "outcome"},
	)

	c.LLMDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Backend call duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "task"},
	)

	c.SessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions currently held in memory",
		},
	)

	c.Deployments = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "total",
			Help:      "Deployments by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	return c
}

// Registry returns the registry the collectors live in.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveStage(mode, stage string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(mode, stage, outcome(err)).Observe(d.Seconds())
}

func (c *Collector) ObserveCall(backend, task string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.LLMRequests.WithLabelValues(backend, task, outcome(err)).Inc()
	c.LLMDuration.WithLabelValues(backend, task).Observe(d.Seconds())
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
}

func (c *Collector) ObserveDeploy(target string, err error) {
	if c == nil {
		return
	}
	c.Deployments.WithLabelValues(target, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "social_recovery"

const (
	LabelFlow   = "flow"
	LabelKind   = "kind"
	LabelReason = "reason"
	LabelRoute  = "route"
	LabelMethod = "method"
	LabelCode   = "code"
)

// RecoveryMetrics is what the orchestrator and the relay report to.
type RecoveryMetrics interface {
	FlowFinished(flow, kind string)
	ShareSubmitted()
	RecoveryCompleted()
	RecoveryAbandoned(reason string)
}

// Collector owns a private registry with every collector of the relay.
type Collector struct {
	registry *prometheus.Registry

	flowOutcomes        *prometheus.CounterVec
	sharesSubmitted     prometheus.Counter
	recoveriesCompleted prometheus.Counter
	recoveriesAbandoned *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		flowOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_outcomes_total",
			Help:      "Orchestrator flow results by flow and outcome kind.",
		}, []string{LabelFlow, LabelKind}),
		sharesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_submitted_total",
			Help:      "Shares appended to recovery requests.",
		}),
		recoveriesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_completed_total",
			Help:      "Recovery requests that installed new credentials.",
		}),
		recoveriesAbandoned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_abandoned_total",
			Help:      "Recovery requests abandoned, by reason.",
		}, []string{LabelReason}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Relay HTTP request latencies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelRoute, LabelMethod, LabelCode}),
	}
}

// FlowFinished counts one flow result. kind is empty for successes.
func (c *Collector) FlowFinished(flow, kind string) {
	if kind == "" {
		kind = "ok"
	}
	c.flowOutcomes.WithLabelValues(flow, kind).Inc()
}

func (c *Collector) ShareSubmitted() {
	c.sharesSubmitted.Inc()
}

func (c *Collector) RecoveryCompleted() {
	c.recoveriesCompleted.Inc()
}

func (c *Collector) RecoveryAbandoned(reason string) {
	c.recoveriesAbandoned.WithLabelValues(reason).Inc()
}

// ObserveRequest records a relay request latency.
func (c *Collector) ObserveRequest(route, method string, code int, duration time.Duration) {
	c.requestDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(duration.Seconds())
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// NoopCollector discards everything.
type NoopCollector struct{}

func (NoopCollector) FlowFinished(string, string) {}
func (NoopCollector) ShareSubmitted()             {}
func (NoopCollector) RecoveryCompleted()          {}
func (NoopCollector) RecoveryAbandoned(string)    {}

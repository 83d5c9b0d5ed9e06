// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the engine's metrics on a private registry.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	stepsTotal        *prometheus.CounterVec
	deferredTotal     *prometheus.CounterVec
	channelSendsTotal *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_executions_total",
				Help: "Workflow executions by terminal status",
			},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_steps_total",
				Help: "Workflow steps by action kind and outcome",
			},
			[]string{"action", "outcome"},
		),
		deferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_deferred_total",
				Help: "Deferred step records by sweep outcome",
			},
			[]string{"outcome"},
		),
		channelSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_channel_sends_total",
				Help: "Outbound channel sends by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "caseflow_sweep_duration_seconds",
				Help:    "Duration of a sweep pass",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.executionsTotal,
		c.stepsTotal,
		c.deferredTotal,
		c.channelSendsTotal,
		c.sweepDuration,
	)
	return c
}

// Registry returns the private registry (for tests and custom exporters).
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ExecutionFinished counts an execution reaching status.
func (c *Collectors) ExecutionFinished(status string) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(status).Inc()
}

// StepOutcome counts one step outcome for an action kind.
func (c *Collectors) StepOutcome(action, outcome string) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(action, outcome).Inc()
}

// DeferredOutcome counts a sweep outcome for a deferred record
// (executed, failed, lost_claim).
func (c *Collectors) DeferredOutcome(outcome string) {
	if c == nil {
		return
	}
	c.deferredTotal.WithLabelValues(outcome).Inc()
}

// ChannelSend counts one outbound send attempt.
func (c *Collectors) ChannelSend(channel string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.channelSendsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveSweep records the duration of one sweep pass.
func (c *Collectors) ObserveSweep(d time.Duration) {
	if c == nil {
		return
	}
	c.sweepDuration.Observe(d.Seconds())
}

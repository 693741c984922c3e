// Package metrics holds the Prometheus metrics mysqlcheck records
// around driver operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for mysqlcheck.
type Collector struct {
	Registry *prometheus.Registry

	connectsTotal   *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryTimeouts   *prometheus.CounterVec
	targetHealth    *prometheus.GaugeVec
	probeDuration   *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry. Safe to
// call multiple times — each call creates an independent registry that
// doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcheck_connects_total",
				Help: "Connection attempts per target",
			},
			[]string{"target", "status"},
		),
		connectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mysqlcheck_connect_duration_seconds",
				Help:    "Time from dial to handshake completion",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"target"},
		),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcheck_queries_total",
				Help: "Probe queries per target",
			},
			[]string{"target", "status"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mysqlcheck_query_duration_seconds",
				Help:    "Probe query round-trip time",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"target"},
		),
		queryTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcheck_query_timeouts_total",
				Help: "Probe queries that hit their deadline",
			},
			[]string{"target"},
		),
		targetHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlcheck_target_health",
				Help: "Target health (1=healthy, 0=unhealthy)",
			},
			[]string{"target"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mysqlcheck_probe_duration_seconds",
				Help:    "Duration of a full probe cycle per target",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"target", "status"},
		),
	}

	reg.MustRegister(
		c.connectsTotal,
		c.connectDuration,
		c.queriesTotal,
		c.queryDuration,
		c.queryTimeouts,
		c.targetHealth,
		c.probeDuration,
	)

	return c
}

// ConnectCompleted records one connect attempt and its duration.
func (c *Collector) ConnectCompleted(target string, d time.Duration, ok bool) {
	c.connectsTotal.WithLabelValues(target, statusLabel(ok)).Inc()
	if ok {
		c.connectDuration.WithLabelValues(target).Observe(d.Seconds())
	}
}

// QueryCompleted records one probe query and its duration.
func (c *Collector) QueryCompleted(target string, d time.Duration, ok bool) {
	c.queriesTotal.WithLabelValues(target, statusLabel(ok)).Inc()
	if ok {
		c.queryDuration.WithLabelValues(target).Observe(d.Seconds())
	}
}

// QueryTimeout records a probe query that hit its deadline.
func (c *Collector) QueryTimeout(target string) {
	c.queryTimeouts.WithLabelValues(target).Inc()
}

// SetTargetHealth sets the health gauge for a target.
func (c *Collector) SetTargetHealth(target string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.targetHealth.WithLabelValues(target).Set(val)
}

// ProbeCompleted records a full probe cycle.
func (c *Collector) ProbeCompleted(target string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.probeDuration.WithLabelValues(target, status).Observe(d.Seconds())
}

// RemoveTarget removes all metrics for a target that left the config.
func (c *Collector) RemoveTarget(target string) {
	c.connectsTotal.DeletePartialMatch(prometheus.Labels{"target": target})
	c.connectDuration.DeletePartialMatch(prometheus.Labels{"target": target})
	c.queriesTotal.DeletePartialMatch(prometheus.Labels{"target": target})
	c.queryDuration.DeletePartialMatch(prometheus.Labels{"target": target})
	c.queryTimeouts.DeleteLabelValues(target)
	c.targetHealth.DeleteLabelValues(target)
	c.probeDuration.DeletePartialMatch(prometheus.Labels{"target": target})
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

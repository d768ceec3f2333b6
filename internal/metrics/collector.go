// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records delegation and relay metrics.
type Collector struct {
	delegationsRegistered *prometheus.CounterVec
	delegationsCompleted  *prometheus.CounterVec
	delegationDuration    *prometheus.HistogramVec
	delegationWarnings    prometheus.Counter

	relayPublishes      *prometheus.CounterVec
	pendingDelegations  prometheus.Gauge
	persistenceFailures prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered against reg. Pass
// nil to use the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.delegationsRegistered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_registered_total",
			Help:      "Total number of pending delegations registered",
		},
		[]string{"kind"},
	)

	c.delegationsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_completed_total",
			Help:      "Total number of delegations that observed a reply",
		},
		[]string{"kind"},
	)

	c.delegationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_duration_seconds",
			Help:      "Time from registration to reply",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
		[]string{"kind"},
	)

	c.delegationWarnings = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_resolution_warnings_total",
			Help:      "Recipients that failed to resolve in fan-out calls",
		},
	)

	c.relayPublishes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publishes_total",
			Help:      "Outgoing relay publishes by outcome",
		},
		[]string{"status"},
	)

	c.pendingDelegations = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_delegations",
			Help:      "Current number of pending delegations across all buckets",
		},
	)

	c.persistenceFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_persistence_failures_total",
			Help:      "Best-effort conversation saves that failed",
		},
	)

	return c
}

// RecordRegistered counts a newly registered delegation.
func (c *Collector) RecordRegistered(kind string) {
	if c == nil {
		return
	}
	c.delegationsRegistered.WithLabelValues(kind).Inc()
}

// RecordCompleted counts a completed delegation and its latency.
func (c *Collector) RecordCompleted(kind string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.delegationsCompleted.WithLabelValues(kind).Inc()
	c.delegationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordResolutionWarning counts an unresolvable fan-out recipient.
func (c *Collector) RecordResolutionWarning() {
	if c == nil {
		return
	}
	c.delegationWarnings.Inc()
}

// RecordPublish counts a relay publish outcome ("ok", "rejected", "timeout").
func (c *Collector) RecordPublish(status string) {
	if c == nil {
		return
	}
	c.relayPublishes.WithLabelValues(status).Inc()
}

// SetPendingCount updates the pending-delegations gauge.
func (c *Collector) SetPendingCount(n int) {
	if c == nil {
		return
	}
	c.pendingDelegations.Set(float64(n))
}

// RecordPersistenceFailure counts a swallowed conversation-save failure.
func (c *Collector) RecordPersistenceFailure() {
	if c == nil {
		return
	}
	c.persistenceFailures.Inc()
}

package logship

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics on top of Prometheus collectors.
type PromMetrics struct {
	sendDuration  prometheus.Histogram
	delivered     prometheus.Counter
	failedBatches prometheus.Counter
	pending       prometheus.Gauge
}

var _ Metrics = (*PromMetrics)(nil)

// NewPromMetrics creates and registers the shipper collectors with reg.
// Pass prometheus.DefaultRegisterer to use the global registry.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logship_send_duration_seconds",
			Help:    "Time taken by one batch send to the sink",
			Buckets: prometheus.DefBuckets,
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logship_delivered_entries_total",
			Help: "Total log entries acknowledged by the sink",
		}),
		failedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logship_failed_batches_total",
			Help: "Total batch delivery attempts that failed and were left queued",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logship_pending_entries",
			Help: "Log entries currently persisted in the durable queue",
		}),
	}
	reg.MustRegister(m.sendDuration, m.delivered, m.failedBatches, m.pending)

	return m
}

// ObserveSendDuration implements Metrics.
func (m *PromMetrics) ObserveSendDuration(duration time.Duration) {
	m.sendDuration.Observe(duration.Seconds())
}

// AddDelivered implements Metrics.
func (m *PromMetrics) AddDelivered(count int) {
	m.delivered.Add(float64(count))
}

// AddFailedBatches implements Metrics.
func (m *PromMetrics) AddFailedBatches(count int) {
	m.failedBatches.Add(float64(count))
}

// SetPending implements Metrics.
func (m *PromMetrics) SetPending(count int) {
	m.pending.Set(float64(count))
}

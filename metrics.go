package logship

import "time"

// Metrics captures delivery-level telemetry.
type Metrics interface {
	// ObserveSendDuration records the time one batch send took.
	ObserveSendDuration(duration time.Duration)
	// AddDelivered increments the count of successfully delivered entries.
	AddDelivered(count int)
	// AddFailedBatches increments the count of failed delivery attempts.
	AddFailedBatches(count int)
	// SetPending updates the current durably queued entry count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveSendDuration implements Metrics.
func (NopMetrics) ObserveSendDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddFailedBatches implements Metrics.
func (NopMetrics) AddFailedBatches(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}

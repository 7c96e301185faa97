package service

import (
	"sync/atomic"
	"time"
)

// Metrics tracks agreement service activity
type Metrics struct {
	dispatches      int64
	dispatchErrors  int64
	dispatchLatency int64 // Total latency in nanoseconds
	ignoredEvents   int64
	rejectedEvents  int64
	transitions     int64
	ticks           int64
	busySkips       int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the current metrics snapshot
func GetMetrics() Metrics {
	return Metrics{
		dispatches:      atomic.LoadInt64(&globalMetrics.dispatches),
		dispatchErrors:  atomic.LoadInt64(&globalMetrics.dispatchErrors),
		dispatchLatency: atomic.LoadInt64(&globalMetrics.dispatchLatency),
		ignoredEvents:   atomic.LoadInt64(&globalMetrics.ignoredEvents),
		rejectedEvents:  atomic.LoadInt64(&globalMetrics.rejectedEvents),
		transitions:     atomic.LoadInt64(&globalMetrics.transitions),
		ticks:           atomic.LoadInt64(&globalMetrics.ticks),
		busySkips:       atomic.LoadInt64(&globalMetrics.busySkips),
	}
}

// ResetMetrics resets all metrics (useful for testing)
func ResetMetrics() {
	atomic.StoreInt64(&globalMetrics.dispatches, 0)
	atomic.StoreInt64(&globalMetrics.dispatchErrors, 0)
	atomic.StoreInt64(&globalMetrics.dispatchLatency, 0)
	atomic.StoreInt64(&globalMetrics.ignoredEvents, 0)
	atomic.StoreInt64(&globalMetrics.rejectedEvents, 0)
	atomic.StoreInt64(&globalMetrics.transitions, 0)
	atomic.StoreInt64(&globalMetrics.ticks, 0)
	atomic.StoreInt64(&globalMetrics.busySkips, 0)
}

// recordDispatch records one delivered event
func recordDispatch(duration time.Duration, err error) {
	atomic.AddInt64(&globalMetrics.dispatches, 1)
	atomic.AddInt64(&globalMetrics.dispatchLatency, duration.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&globalMetrics.dispatchErrors, 1)
	}
}

func recordIgnored() {
	atomic.AddInt64(&globalMetrics.ignoredEvents, 1)
}

func recordRejected() {
	atomic.AddInt64(&globalMetrics.rejectedEvents, 1)
}

func recordTransition() {
	atomic.AddInt64(&globalMetrics.transitions, 1)
}

func recordTick() {
	atomic.AddInt64(&globalMetrics.ticks, 1)
}

func recordBusySkip() {
	atomic.AddInt64(&globalMetrics.busySkips, 1)
}

// Dispatches returns the number of delivered events
func (m Metrics) Dispatches() int64 { return m.dispatches }

// DispatchErrors returns the number of deliveries that failed
func (m Metrics) DispatchErrors() int64 { return m.dispatchErrors }

// IgnoredEvents returns the number of events no state accepted
func (m Metrics) IgnoredEvents() int64 { return m.ignoredEvents }

// RejectedEvents returns the number of events vetoed by a guard
func (m Metrics) RejectedEvents() int64 { return m.rejectedEvents }

// Transitions returns the number of state changes
func (m Metrics) Transitions() int64 { return m.transitions }

// Ticks returns the number of agreements ticked
func (m Metrics) Ticks() int64 { return m.ticks }

// BusySkips returns the number of ticks skipped because the mailbox was held
func (m Metrics) BusySkips() int64 { return m.busySkips }

// AverageDispatchLatency returns the average latency in milliseconds
func (m Metrics) AverageDispatchLatency() float64 {
	if m.dispatches == 0 {
		return 0
	}
	avgNs := float64(m.dispatchLatency) / float64(m.dispatches)
	return avgNs / 1e6 // Convert nanoseconds to milliseconds
}

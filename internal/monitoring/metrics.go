// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:   Total and successful proxied requests
//   - captures/failures:    Debug payload files written vs abandoned
//   - captured_bytes:       Serialized bytes written to disk
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	requests        atomic.Int64
	successes       atomic.Int64
	captures        atomic.Int64
	captureFailures atomic.Int64
	capturedBytes   atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRequest records a request.
func (mc *MetricsCollector) RecordRequest(success bool, _ time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordCapture records a debug payload written to disk.
func (mc *MetricsCollector) RecordCapture(bytes int) {
	mc.captures.Add(1)
	mc.capturedBytes.Add(int64(bytes))
}

// RecordCaptureFailure records an abandoned capture.
func (mc *MetricsCollector) RecordCaptureFailure() { mc.captureFailures.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":         mc.requests.Load(),
		"successes":        mc.successes.Load(),
		"captures":         mc.captures.Load(),
		"capture_failures": mc.captureFailures.Load(),
		"captured_bytes":   mc.capturedBytes.Load(),
	}
}

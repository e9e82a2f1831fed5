// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:   Warn when request exceeds threshold
//   - FlagProviderError: Warn on upstream 4xx/5xx responses
//   - FlagUpstreamError: Error when the upstream cannot be reached
//   - FlagPanic:         Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, highLatencyThreshold time.Duration) *AlertManager {
	if highLatencyThreshold == 0 {
		highLatencyThreshold = 5 * time.Second
	}
	return &AlertManager{logger: logger, highLatencyThreshold: highLatencyThreshold}
}

// FlagHighLatency logs when request latency exceeds threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, path string) {
	if latency < am.highLatencyThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("path", path).
		Msg("high_latency")
}

// FlagProviderError logs upstream provider error.
func (am *AlertManager) FlagProviderError(requestID string, statusCode int) {
	am.logger.Warn().
		Str("request_id", requestID).
		Int("status", statusCode).
		Msg("provider_error")
}

// FlagUpstreamError logs a failed round trip to the upstream.
func (am *AlertManager) FlagUpstreamError(requestID, targetURL string, err error) {
	am.logger.Error().
		Str("request_id", requestID).
		Str("target", targetURL).
		Err(err).
		Msg("upstream_error")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}

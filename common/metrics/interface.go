package metrics

import (
	"time"
)

// MetricsRecorder defines the interface for recording gateway metrics.
type MetricsRecorder interface {
	// HTTP metrics
	RecordHTTPRequest(startTime time.Time, path, method, statusCode string)
	RecordHTTPActiveRequest(path, method string, delta float64)

	// Relay metrics: one record per finished request, successful or not.
	RecordRelayRequest(startTime time.Time, providerId, model, dialect string, principalId int64, success bool, promptTokens, completionTokens int, costUSD float64)
	RecordFirstTokenLatency(providerId, model string, latency time.Duration)

	// Failover metrics: one record per provider attempt.
	RecordProviderAttempt(providerId, outcome string, latency time.Duration)
	UpdateProviderSuspended(providerId string, suspended bool)

	// Admission metrics
	RecordCredentialAuth(success bool)
	RecordAdmissionReject(reason string)
	RecordRateLimitHit(window, identifier string)

	// Catalog metrics
	RecordCatalogRefresh(providerId string, success, servedFallback bool, latency time.Duration)

	// Billing metrics
	RecordDebit(outcome string, amountUSD float64)
	RecordBillingTimeout(principalId int64, providerId, model string, costUSD float64, elapsed time.Duration)

	// Session metrics
	RecordSessionAppend(success bool)

	// Error metrics
	RecordError(errorType, component string)

	// System metrics
	InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time)
}

// GlobalRecorder holds the active metrics recorder implementation.
var GlobalRecorder MetricsRecorder

// Initialize with no-op recorder by default
func init() {
	GlobalRecorder = &NoOpRecorder{}
}

// NoOpRecorder is a no-operation implementation for when metrics are disabled.
type NoOpRecorder struct{}

// RecordHTTPRequest implements MetricsRecorder.RecordHTTPRequest without collecting any data.
func (n *NoOpRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {}

// RecordHTTPActiveRequest implements MetricsRecorder.RecordHTTPActiveRequest without collecting any data.
func (n *NoOpRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {}

// RecordRelayRequest implements MetricsRecorder.RecordRelayRequest without collecting any data.
func (n *NoOpRecorder) RecordRelayRequest(startTime time.Time, providerId, model, dialect string, principalId int64, success bool, promptTokens, completionTokens int, costUSD float64) {
}

// RecordFirstTokenLatency implements MetricsRecorder.RecordFirstTokenLatency without collecting any data.
func (n *NoOpRecorder) RecordFirstTokenLatency(providerId, model string, latency time.Duration) {}

// RecordProviderAttempt implements MetricsRecorder.RecordProviderAttempt without collecting any data.
func (n *NoOpRecorder) RecordProviderAttempt(providerId, outcome string, latency time.Duration) {}

// UpdateProviderSuspended implements MetricsRecorder.UpdateProviderSuspended without collecting any data.
func (n *NoOpRecorder) UpdateProviderSuspended(providerId string, suspended bool) {}

// RecordCredentialAuth implements MetricsRecorder.RecordCredentialAuth without collecting any data.
func (n *NoOpRecorder) RecordCredentialAuth(success bool) {}

// RecordAdmissionReject implements MetricsRecorder.RecordAdmissionReject without collecting any data.
func (n *NoOpRecorder) RecordAdmissionReject(reason string) {}

// RecordRateLimitHit implements MetricsRecorder.RecordRateLimitHit without collecting any data.
func (n *NoOpRecorder) RecordRateLimitHit(window, identifier string) {}

// RecordCatalogRefresh implements MetricsRecorder.RecordCatalogRefresh without collecting any data.
func (n *NoOpRecorder) RecordCatalogRefresh(providerId string, success, servedFallback bool, latency time.Duration) {
}

// RecordDebit implements MetricsRecorder.RecordDebit without collecting any data.
func (n *NoOpRecorder) RecordDebit(outcome string, amountUSD float64) {}

// RecordBillingTimeout implements MetricsRecorder.RecordBillingTimeout without collecting any data.
func (n *NoOpRecorder) RecordBillingTimeout(principalId int64, providerId, model string, costUSD float64, elapsed time.Duration) {
}

// RecordSessionAppend implements MetricsRecorder.RecordSessionAppend without collecting any data.
func (n *NoOpRecorder) RecordSessionAppend(success bool) {}

// RecordError implements MetricsRecorder.RecordError without collecting any data.
func (n *NoOpRecorder) RecordError(errorType, component string) {}

// InitSystemMetrics implements MetricsRecorder.InitSystemMetrics without collecting any data.
func (n *NoOpRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {}

// MultiRecorder wraps multiple MetricsRecorder implementations.
type MultiRecorder struct {
	Recorders []MetricsRecorder
}

// RecordHTTPRequest implements MetricsRecorder.RecordHTTPRequest
func (m *MultiRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	for _, r := range m.Recorders {
		r.RecordHTTPRequest(startTime, path, method, statusCode)
	}
}

// RecordHTTPActiveRequest implements MetricsRecorder.RecordHTTPActiveRequest
func (m *MultiRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	for _, r := range m.Recorders {
		r.RecordHTTPActiveRequest(path, method, delta)
	}
}

// RecordRelayRequest implements MetricsRecorder.RecordRelayRequest
func (m *MultiRecorder) RecordRelayRequest(startTime time.Time, providerId, model, dialect string, principalId int64, success bool, promptTokens, completionTokens int, costUSD float64) {
	for _, r := range m.Recorders {
		r.RecordRelayRequest(startTime, providerId, model, dialect, principalId, success, promptTokens, completionTokens, costUSD)
	}
}

// RecordFirstTokenLatency implements MetricsRecorder.RecordFirstTokenLatency
func (m *MultiRecorder) RecordFirstTokenLatency(providerId, model string, latency time.Duration) {
	for _, r := range m.Recorders {
		r.RecordFirstTokenLatency(providerId, model, latency)
	}
}

// RecordProviderAttempt implements MetricsRecorder.RecordProviderAttempt
func (m *MultiRecorder) RecordProviderAttempt(providerId, outcome string, latency time.Duration) {
	for _, r := range m.Recorders {
		r.RecordProviderAttempt(providerId, outcome, latency)
	}
}

// UpdateProviderSuspended implements MetricsRecorder.UpdateProviderSuspended
func (m *MultiRecorder) UpdateProviderSuspended(providerId string, suspended bool) {
	for _, r := range m.Recorders {
		r.UpdateProviderSuspended(providerId, suspended)
	}
}

// RecordCredentialAuth implements MetricsRecorder.RecordCredentialAuth
func (m *MultiRecorder) RecordCredentialAuth(success bool) {
	for _, r := range m.Recorders {
		r.RecordCredentialAuth(success)
	}
}

// RecordAdmissionReject implements MetricsRecorder.RecordAdmissionReject
func (m *MultiRecorder) RecordAdmissionReject(reason string) {
	for _, r := range m.Recorders {
		r.RecordAdmissionReject(reason)
	}
}

// RecordRateLimitHit implements MetricsRecorder.RecordRateLimitHit
func (m *MultiRecorder) RecordRateLimitHit(window, identifier string) {
	for _, r := range m.Recorders {
		r.RecordRateLimitHit(window, identifier)
	}
}

// RecordCatalogRefresh implements MetricsRecorder.RecordCatalogRefresh
func (m *MultiRecorder) RecordCatalogRefresh(providerId string, success, servedFallback bool, latency time.Duration) {
	for _, r := range m.Recorders {
		r.RecordCatalogRefresh(providerId, success, servedFallback, latency)
	}
}

// RecordDebit implements MetricsRecorder.RecordDebit
func (m *MultiRecorder) RecordDebit(outcome string, amountUSD float64) {
	for _, r := range m.Recorders {
		r.RecordDebit(outcome, amountUSD)
	}
}

// RecordBillingTimeout implements MetricsRecorder.RecordBillingTimeout
func (m *MultiRecorder) RecordBillingTimeout(principalId int64, providerId, model string, costUSD float64, elapsed time.Duration) {
	for _, r := range m.Recorders {
		r.RecordBillingTimeout(principalId, providerId, model, costUSD, elapsed)
	}
}

// RecordSessionAppend implements MetricsRecorder.RecordSessionAppend
func (m *MultiRecorder) RecordSessionAppend(success bool) {
	for _, r := range m.Recorders {
		r.RecordSessionAppend(success)
	}
}

// RecordError implements MetricsRecorder.RecordError
func (m *MultiRecorder) RecordError(errorType, component string) {
	for _, r := range m.Recorders {
		r.RecordError(errorType, component)
	}
}

// InitSystemMetrics implements MetricsRecorder.InitSystemMetrics
func (m *MultiRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
	for _, r := range m.Recorders {
		r.InitSystemMetrics(version, buildTime, goVersion, startTime)
	}
}

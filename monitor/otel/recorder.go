package otel

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelRecorder implements the MetricsRecorder interface using OpenTelemetry
type OtelRecorder struct {
	meter metric.Meter

	// Relay metrics
	relayRequestDuration metric.Float64Histogram
	relayRequestsTotal   metric.Int64Counter
	relayTokensUsed      metric.Int64Counter
	relayCostUSD         metric.Float64Counter
	firstTokenLatency    metric.Float64Histogram

	// HTTP metrics
	httpRequestDuration metric.Float64Histogram
	httpRequestsTotal   metric.Int64Counter
	httpActiveRequests  metric.Float64UpDownCounter

	// Provider metrics
	providerAttemptDuration metric.Float64Histogram
	providerAttemptsTotal   metric.Int64Counter
	providerSuspended       metric.Int64Gauge

	// Admission metrics
	credentialAuthTotal   metric.Int64Counter
	admissionRejectsTotal metric.Int64Counter
	rateLimitHits         metric.Int64Counter

	// Catalog metrics
	catalogRefreshDuration metric.Float64Histogram
	catalogRefreshTotal    metric.Int64Counter

	// Billing metrics
	debitsTotal     metric.Int64Counter
	debitAmountUSD  metric.Float64Counter
	billingTimeouts metric.Int64Counter

	// Session metrics
	sessionAppendsTotal metric.Int64Counter

	// Error metrics
	errorsTotal metric.Int64Counter
}

// NewOtelRecorder creates a new OtelRecorder
func NewOtelRecorder() (*OtelRecorder, error) {
	meter := otel.Meter("modelrelay")
	r := &OtelRecorder{meter: meter}

	var err error
	// Relay metrics
	if r.relayRequestDuration, err = meter.Float64Histogram("modelrelay_relay_request_duration_seconds", metric.WithDescription("Duration of relay requests in seconds")); err != nil {
		return nil, err
	}
	if r.relayRequestsTotal, err = meter.Int64Counter("modelrelay_relay_requests_total", metric.WithDescription("Total number of relay requests")); err != nil {
		return nil, err
	}
	if r.relayTokensUsed, err = meter.Int64Counter("modelrelay_relay_tokens_total", metric.WithDescription("Total number of tokens used in relay requests")); err != nil {
		return nil, err
	}
	if r.relayCostUSD, err = meter.Float64Counter("modelrelay_relay_cost_usd_total", metric.WithDescription("Total cost of relay requests in USD")); err != nil {
		return nil, err
	}
	if r.firstTokenLatency, err = meter.Float64Histogram("modelrelay_first_token_latency_seconds", metric.WithDescription("Latency until the first streamed token in seconds")); err != nil {
		return nil, err
	}

	// HTTP metrics
	if r.httpRequestDuration, err = meter.Float64Histogram("modelrelay_http_request_duration_seconds", metric.WithDescription("Duration of HTTP requests in seconds")); err != nil {
		return nil, err
	}
	if r.httpRequestsTotal, err = meter.Int64Counter("modelrelay_http_requests_total", metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if r.httpActiveRequests, err = meter.Float64UpDownCounter("modelrelay_http_active_requests", metric.WithDescription("Number of active HTTP requests")); err != nil {
		return nil, err
	}

	// Provider metrics
	if r.providerAttemptDuration, err = meter.Float64Histogram("modelrelay_provider_attempt_duration_seconds", metric.WithDescription("Duration of upstream provider attempts in seconds")); err != nil {
		return nil, err
	}
	if r.providerAttemptsTotal, err = meter.Int64Counter("modelrelay_provider_attempts_total", metric.WithDescription("Total number of upstream provider attempts")); err != nil {
		return nil, err
	}
	if r.providerSuspended, err = meter.Int64Gauge("modelrelay_provider_suspended", metric.WithDescription("Provider suspension state (1=suspended, 0=serving)")); err != nil {
		return nil, err
	}

	// Admission metrics
	if r.credentialAuthTotal, err = meter.Int64Counter("modelrelay_credential_auth_total", metric.WithDescription("Total number of credential authentication attempts")); err != nil {
		return nil, err
	}
	if r.admissionRejectsTotal, err = meter.Int64Counter("modelrelay_admission_rejects_total", metric.WithDescription("Total number of requests rejected during admission")); err != nil {
		return nil, err
	}
	if r.rateLimitHits, err = meter.Int64Counter("modelrelay_rate_limit_hits_total", metric.WithDescription("Total number of rate limit hits")); err != nil {
		return nil, err
	}

	// Catalog metrics
	if r.catalogRefreshDuration, err = meter.Float64Histogram("modelrelay_catalog_refresh_duration_seconds", metric.WithDescription("Duration of catalog refresh fetches in seconds")); err != nil {
		return nil, err
	}
	if r.catalogRefreshTotal, err = meter.Int64Counter("modelrelay_catalog_refresh_total", metric.WithDescription("Total number of catalog refresh fetches")); err != nil {
		return nil, err
	}

	// Billing metrics
	if r.debitsTotal, err = meter.Int64Counter("modelrelay_debits_total", metric.WithDescription("Total number of credit debits")); err != nil {
		return nil, err
	}
	if r.debitAmountUSD, err = meter.Float64Counter("modelrelay_debit_amount_usd_total", metric.WithDescription("Total amount debited in USD")); err != nil {
		return nil, err
	}
	if r.billingTimeouts, err = meter.Int64Counter("modelrelay_billing_timeouts_total", metric.WithDescription("Total number of billing operations that exceeded the watchdog deadline")); err != nil {
		return nil, err
	}

	// Session metrics
	if r.sessionAppendsTotal, err = meter.Int64Counter("modelrelay_session_appends_total", metric.WithDescription("Total number of session history appends")); err != nil {
		return nil, err
	}

	// Error metrics
	if r.errorsTotal, err = meter.Int64Counter("modelrelay_errors_total", metric.WithDescription("Total number of errors")); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordHTTPRequest records HTTP request metrics
func (r *OtelRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	ctx := context.Background()
	duration := time.Since(startTime).Seconds()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.String("status_code", statusCode),
	}
	r.httpRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordHTTPActiveRequest records active HTTP request metrics
func (r *OtelRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
	}
	r.httpActiveRequests.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// RecordRelayRequest records relay request metrics
func (r *OtelRecorder) RecordRelayRequest(startTime time.Time, providerId, model, dialect string, principalId int64, success bool, promptTokens, completionTokens int, costUSD float64) {
	ctx := context.Background()
	duration := time.Since(startTime).Seconds()

	attrs := []attribute.KeyValue{
		attribute.String("provider_id", providerId),
		attribute.String("model", model),
		attribute.String("dialect", dialect),
		attribute.String("principal_id", strconv.FormatInt(principalId, 10)),
		attribute.String("success", strconv.FormatBool(success)),
	}

	r.relayRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.relayRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if promptTokens > 0 {
		promptAttrs := append(attrs, attribute.String("token_type", "prompt"))
		r.relayTokensUsed.Add(ctx, int64(promptTokens), metric.WithAttributes(promptAttrs...))
	}
	if completionTokens > 0 {
		completionAttrs := append(attrs, attribute.String("token_type", "completion"))
		r.relayTokensUsed.Add(ctx, int64(completionTokens), metric.WithAttributes(completionAttrs...))
	}
	if costUSD > 0 {
		r.relayCostUSD.Add(ctx, costUSD, metric.WithAttributes(attrs...))
	}
}

// RecordFirstTokenLatency records the latency until the first streamed token
func (r *OtelRecorder) RecordFirstTokenLatency(providerId, model string, latency time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider_id", providerId),
		attribute.String("model", model),
	}
	r.firstTokenLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}

// RecordProviderAttempt records one upstream provider attempt
func (r *OtelRecorder) RecordProviderAttempt(providerId, outcome string, latency time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider_id", providerId),
		attribute.String("outcome", outcome),
	}
	r.providerAttemptDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	r.providerAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// UpdateProviderSuspended updates the suspension gauge for a provider
func (r *OtelRecorder) UpdateProviderSuspended(providerId string, suspended bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider_id", providerId),
	}
	var v int64
	if suspended {
		v = 1
	}
	r.providerSuspended.Record(ctx, v, metric.WithAttributes(attrs...))
}

// RecordCredentialAuth records credential authentication metrics
func (r *OtelRecorder) RecordCredentialAuth(success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.credentialAuthTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAdmissionReject records a request rejected during admission
func (r *OtelRecorder) RecordAdmissionReject(reason string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("reason", reason),
	}
	r.admissionRejectsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitHit records rate limit hit metrics
func (r *OtelRecorder) RecordRateLimitHit(window, identifier string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("window", window),
		attribute.String("identifier", identifier),
	}
	r.rateLimitHits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCatalogRefresh records one catalog refresh fetch
func (r *OtelRecorder) RecordCatalogRefresh(providerId string, success, servedFallback bool, latency time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider_id", providerId),
		attribute.String("success", strconv.FormatBool(success)),
		attribute.String("served_fallback", strconv.FormatBool(servedFallback)),
	}
	r.catalogRefreshDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	r.catalogRefreshTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDebit records one credit debit
func (r *OtelRecorder) RecordDebit(outcome string, amountUSD float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	r.debitsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amountUSD > 0 {
		r.debitAmountUSD.Add(ctx, amountUSD, metric.WithAttributes(attrs...))
	}
}

// RecordBillingTimeout records a billing operation that exceeded the watchdog deadline
func (r *OtelRecorder) RecordBillingTimeout(principalId int64, providerId, model string, costUSD float64, elapsed time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider_id", providerId),
		attribute.String("model", model),
	}
	r.billingTimeouts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionAppend records one session history append
func (r *OtelRecorder) RecordSessionAppend(success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.sessionAppendsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordError records error metrics
func (r *OtelRecorder) RecordError(errorType, component string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("error_type", errorType),
		attribute.String("component", component),
	}
	r.errorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// InitSystemMetrics initializes system metrics
func (r *OtelRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
}

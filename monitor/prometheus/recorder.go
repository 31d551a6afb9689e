package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelrelay_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status_code"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "method", "status_code"})

	httpActiveRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modelrelay_http_active_requests",
		Help: "Number of active HTTP requests",
	}, []string{"path", "method"})

	relayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelrelay_relay_request_duration_seconds",
		Help:    "Duration of relay requests in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"provider_id", "model", "dialect", "success"})

	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_relay_requests_total",
		Help: "Total number of relay requests",
	}, []string{"provider_id", "model", "dialect", "success"})

	relayTokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_relay_tokens_total",
		Help: "Total number of tokens used in relay requests",
	}, []string{"provider_id", "model", "token_type"})

	relayCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_relay_cost_usd_total",
		Help: "Total cost of relay requests in USD",
	}, []string{"provider_id", "model"})

	firstTokenLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelrelay_first_token_latency_seconds",
		Help:    "Latency until the first streamed token in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider_id", "model"})

	providerAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelrelay_provider_attempt_duration_seconds",
		Help:    "Duration of upstream provider attempts in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"provider_id", "outcome"})

	providerAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_provider_attempts_total",
		Help: "Total number of upstream provider attempts",
	}, []string{"provider_id", "outcome"})

	providerSuspended = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modelrelay_provider_suspended",
		Help: "Provider suspension state (1=suspended, 0=serving)",
	}, []string{"provider_id"})

	credentialAuthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_credential_auth_total",
		Help: "Total number of credential authentication attempts",
	}, []string{"success"})

	admissionRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_admission_rejects_total",
		Help: "Total number of requests rejected during admission",
	}, []string{"reason"})

	rateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_rate_limit_hits_total",
		Help: "Total number of rate limit hits",
	}, []string{"window", "identifier"})

	catalogRefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelrelay_catalog_refresh_duration_seconds",
		Help:    "Duration of catalog refresh fetches in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"provider_id", "success", "served_fallback"})

	catalogRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_catalog_refresh_total",
		Help: "Total number of catalog refresh fetches",
	}, []string{"provider_id", "success", "served_fallback"})

	debitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_debits_total",
		Help: "Total number of credit debits",
	}, []string{"outcome"})

	debitAmountUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_debit_amount_usd_total",
		Help: "Total amount debited in USD",
	}, []string{"outcome"})

	billingTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_billing_timeouts_total",
		Help: "Total number of billing operations that exceeded the watchdog deadline",
	}, []string{"provider_id", "model"})

	sessionAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_session_appends_total",
		Help: "Total number of session history appends",
	}, []string{"success"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelrelay_errors_total",
		Help: "Total number of errors",
	}, []string{"error_type", "component"})

	systemInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modelrelay_system_info",
		Help: "System build information",
	}, []string{"version", "build_time", "go_version"})

	systemStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modelrelay_start_time_seconds",
		Help: "Unix timestamp of process start",
	})
)

// PrometheusRecorder implements the MetricsRecorder interface using Prometheus
type PrometheusRecorder struct{}

// RecordHTTPRequest records HTTP request metrics
func (p *PrometheusRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	duration := time.Since(startTime).Seconds()
	httpRequestDuration.WithLabelValues(path, method, statusCode).Observe(duration)
	httpRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
}

// RecordHTTPActiveRequest records active HTTP request metrics
func (p *PrometheusRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	httpActiveRequests.WithLabelValues(path, method).Add(delta)
}

// RecordRelayRequest records relay request metrics
func (p *PrometheusRecorder) RecordRelayRequest(startTime time.Time, providerId, model, dialect string, principalId int64, success bool, promptTokens, completionTokens int, costUSD float64) {
	duration := time.Since(startTime).Seconds()
	successStr := strconv.FormatBool(success)

	relayRequestDuration.WithLabelValues(providerId, model, dialect, successStr).Observe(duration)
	relayRequestsTotal.WithLabelValues(providerId, model, dialect, successStr).Inc()

	if promptTokens > 0 {
		relayTokensUsed.WithLabelValues(providerId, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		relayTokensUsed.WithLabelValues(providerId, model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		relayCostUSD.WithLabelValues(providerId, model).Add(costUSD)
	}
}

// RecordFirstTokenLatency records the latency until the first streamed token
func (p *PrometheusRecorder) RecordFirstTokenLatency(providerId, model string, latency time.Duration) {
	firstTokenLatency.WithLabelValues(providerId, model).Observe(latency.Seconds())
}

// RecordProviderAttempt records one upstream provider attempt
func (p *PrometheusRecorder) RecordProviderAttempt(providerId, outcome string, latency time.Duration) {
	providerAttemptDuration.WithLabelValues(providerId, outcome).Observe(latency.Seconds())
	providerAttemptsTotal.WithLabelValues(providerId, outcome).Inc()
}

// UpdateProviderSuspended updates the suspension gauge for a provider
func (p *PrometheusRecorder) UpdateProviderSuspended(providerId string, suspended bool) {
	var v float64
	if suspended {
		v = 1
	}
	providerSuspended.WithLabelValues(providerId).Set(v)
}

// RecordCredentialAuth records credential authentication metrics
func (p *PrometheusRecorder) RecordCredentialAuth(success bool) {
	credentialAuthTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordAdmissionReject records a request rejected during admission
func (p *PrometheusRecorder) RecordAdmissionReject(reason string) {
	admissionRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit records rate limit hit metrics
func (p *PrometheusRecorder) RecordRateLimitHit(window, identifier string) {
	rateLimitHits.WithLabelValues(window, identifier).Inc()
}

// RecordCatalogRefresh records one catalog refresh fetch
func (p *PrometheusRecorder) RecordCatalogRefresh(providerId string, success, servedFallback bool, latency time.Duration) {
	successStr := strconv.FormatBool(success)
	fallbackStr := strconv.FormatBool(servedFallback)
	catalogRefreshDuration.WithLabelValues(providerId, successStr, fallbackStr).Observe(latency.Seconds())
	catalogRefreshTotal.WithLabelValues(providerId, successStr, fallbackStr).Inc()
}

// RecordDebit records one credit debit
func (p *PrometheusRecorder) RecordDebit(outcome string, amountUSD float64) {
	debitsTotal.WithLabelValues(outcome).Inc()
	if amountUSD > 0 {
		debitAmountUSD.WithLabelValues(outcome).Add(amountUSD)
	}
}

// RecordBillingTimeout records a billing operation that exceeded the watchdog deadline
func (p *PrometheusRecorder) RecordBillingTimeout(principalId int64, providerId, model string, costUSD float64, elapsed time.Duration) {
	billingTimeouts.WithLabelValues(providerId, model).Inc()
}

// RecordSessionAppend records one session history append
func (p *PrometheusRecorder) RecordSessionAppend(success bool) {
	sessionAppendsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordError records error metrics
func (p *PrometheusRecorder) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// InitSystemMetrics initializes system metrics
func (p *PrometheusRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
	systemInfo.WithLabelValues(version, buildTime, goVersion).Set(1)
	systemStartTime.Set(float64(startTime.Unix()))
}

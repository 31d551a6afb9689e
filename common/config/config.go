// Package config holds process-wide configuration parsed from the
// environment at startup. Values are read once; mutating them at runtime is
// not supported except where a field is documented as test-only.
package config

import (
	"os"
	"time"

	"github.com/modelrelay/modelrelay/common/env"
)

// Server.
var (
	Port         = env.String("PORT", "3000")
	GinMode      = env.String("GIN_MODE", "release")
	DebugEnabled = os.Getenv("DEBUG") == "true"
)

// Database.
var (
	SQLDSN            = os.Getenv("SQL_DSN")
	SQLitePath        = env.String("SQLITE_PATH", "modelrelay.db")
	SQLMaxIdleConns   = env.Int("SQL_MAX_IDLE_CONNS", 100)
	SQLMaxOpenConns   = env.Int("SQL_MAX_OPEN_CONNS", 1000)
	SQLMaxLifetimeSec = env.Int("SQL_MAX_LIFETIME", 60)
	DebugSQLEnabled   = os.Getenv("DEBUG_SQL") == "true"
)

// Redis. Empty connection string disables redis; rate limits and lookup
// caches then run on the in-process stores.
var (
	RedisConnString = os.Getenv("REDIS_CONN_STRING")
	RedisKeyPrefix  = env.String("REDIS_KEY_PREFIX", "mr")
)

// Credential storage. The hash key feeds the HMAC used for lookups; the
// encryption key protects the stored copy used for one-time retrieval.
var (
	CredentialHashKey       = env.String("CREDENTIAL_HASH_KEY", "")
	CredentialEncryptionKey = env.String("CREDENTIAL_ENCRYPTION_KEY", "")
)

// Provider bindings.
var (
	ProvidersConfigPath  = env.String("PROVIDERS_CONFIG", "providers.yaml")
	ProvidersConfigWatch = env.Bool("PROVIDERS_CONFIG_WATCH", true)
	ProviderMaxConns     = env.Int("PROVIDER_MAX_CONNS", 64)
)

// Outbound HTTP.
var (
	RelayProxy                       = env.String("RELAY_PROXY", "")
	UserContentRequestProxy          = env.String("USER_CONTENT_REQUEST_PROXY", "")
	UserContentRequestTimeout        = env.Int("USER_CONTENT_REQUEST_TIMEOUT", 30)
	BlockInternalUserContentRequests = env.Bool("BLOCK_INTERNAL_USER_CONTENT_REQUESTS", true)
)

// Catalog.
var (
	CatalogTTLFreshMin     = env.Int("CATALOG_TTL_FRESH_MIN", 45)
	CatalogTTLStaleFactor  = env.Int("CATALOG_TTL_STALE_FACTOR", 2)
	CatalogWarmupEnabled   = env.Bool("CATALOG_WARMUP", true)
	CatalogFetchTimeoutSec = env.Int("CATALOG_FETCH_TIMEOUT_SEC", 15)
)

// Relay budgets. RelayTimeoutSec is the overall per-request deadline;
// PerAttemptBudgetSec bounds a single non-streaming provider attempt.
// Streaming attempts are unbounded overall but subject to the idle-gap
// timeout between chunks.
var (
	RelayTimeoutSec      = env.Int("RELAY_TIMEOUT", 600)
	PerAttemptBudgetSec  = env.Int("PER_ATTEMPT_BUDGET_SEC", 60)
	StreamIdleTimeoutSec = env.Int("STREAM_IDLE_TIMEOUT_SEC", 30)
	// RetryTimes caps extra retries beyond the provider chain length.
	RetryTimes = env.Int("RETRY_TIMES", 2)
)

// Dialect defaults.
var (
	ClaudeDefaultMaxTokens = env.Int("CLAUDE_DEFAULT_MAX_TOKENS", 512)
	// GeminiSafetySetting is applied to every harm category on Gemini
	// requests; the gateway's own admission layer is the policy surface.
	GeminiSafetySetting = env.String("GEMINI_SAFETY_SETTING", "BLOCK_NONE")
)

// Billing and admission.
var (
	// MinBalanceFloor is the static admission floor in USD. The dynamic
	// floor (one max-token completion at the snapshot output price) applies
	// on top of it.
	MinBalanceFloor   = env.Float64("MIN_BALANCE_FLOOR", 0)
	BillingTimeoutSec = env.Int("BILLING_TIMEOUT_SEC", 30)
	TrialDurationDays = env.Int("TRIAL_DURATION_DAYS", 14)
	TrialTokenCap     = env.Int64("TRIAL_TOKEN_CAP", 50000)
)

// Rate limits. Zero disables a window. Plan and credential settings
// override the per-minute request ceiling.
var (
	RateLimitRequestsPerMinute = env.Int64("RATE_LIMIT_RPM", 60)
	RateLimitRequestsPerHour   = env.Int64("RATE_LIMIT_RPH", 0)
	RateLimitRequestsPerDay    = env.Int64("RATE_LIMIT_RPD", 0)
	RateLimitTokensPerMinute   = env.Int64("RATE_LIMIT_TPM", 0)
	RateLimitTokensPerHour     = env.Int64("RATE_LIMIT_TPH", 0)
	RateLimitTokensPerDay      = env.Int64("RATE_LIMIT_TPD", 0)
)

// Sessions.
var (
	SessionHistoryLimit = env.Int("SESSION_HISTORY_LIMIT", 20)
)

// Content limits.
var (
	MaxInlineImageSizeMB = env.Int("MAX_INLINE_IMAGE_SIZE_MB", 20)
)

// Provider health. A binding that fails with the given class is dropped
// from chain construction for the configured window.
var (
	ProviderSuspendAuthSec = env.Int("PROVIDER_SUSPEND_AUTH_SEC", 3600)
	ProviderSuspend429Sec  = env.Int("PROVIDER_SUSPEND_429_SEC", 60)
	ProviderSuspend5xxSec  = env.Int("PROVIDER_SUSPEND_5XX_SEC", 20)
)

// Observability.
var (
	EnablePrometheusMetrics  = env.Bool("ENABLE_PROMETHEUS_METRICS", true)
	OpenTelemetryEnabled     = env.Bool("OTEL_ENABLED", false)
	OpenTelemetryEndpoint    = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	OpenTelemetryInsecure    = env.Bool("OTEL_EXPORTER_OTLP_INSECURE", false)
	OpenTelemetryServiceName = env.String("OTEL_SERVICE_NAME", "modelrelay")
	OpenTelemetryEnvironment = env.String("OTEL_ENVIRONMENT", "production")
)

// RelayTimeout returns the overall request deadline as a duration; zero
// means no deadline.
func RelayTimeout() time.Duration {
	if RelayTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(RelayTimeoutSec) * time.Second
}

// PerAttemptBudget returns the single-attempt budget as a duration.
func PerAttemptBudget() time.Duration {
	if PerAttemptBudgetSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(PerAttemptBudgetSec) * time.Second
}

// StreamIdleTimeout returns the idle-gap window for streaming reads.
func StreamIdleTimeout() time.Duration {
	if StreamIdleTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(StreamIdleTimeoutSec) * time.Second
}

// CatalogTTLFresh returns the freshness TTL for a provider that does not
// override it.
func CatalogTTLFresh() time.Duration {
	return time.Duration(CatalogTTLFreshMin) * time.Minute
}

// CatalogTTLStale returns the stale ceiling derived from the fresh TTL.
func CatalogTTLStale() time.Duration {
	factor := CatalogTTLStaleFactor
	if factor < 1 {
		factor = 2
	}
	return CatalogTTLFresh() * time.Duration(factor)
}

package model

import "net/http"

// FailureClass names the outcome of one upstream provider attempt.
type FailureClass string

const (
	FailureOK          FailureClass = "ok"
	FailureAuth        FailureClass = "auth"
	FailureNotFound    FailureClass = "not_found"
	FailureRateLimited FailureClass = "rate_limited"
	FailureTransient   FailureClass = "transient"
	FailurePermanent   FailureClass = "permanent"
	FailureTimeout     FailureClass = "timeout"
	// FailureAbandoned marks an attempt cut short because the client went
	// away. The provider did nothing wrong, so it neither fails over nor
	// counts against the provider's health.
	FailureAbandoned FailureClass = "abandoned"
	FailureUnknown   FailureClass = "unknown"
)

// ClassifyStatusCode maps an upstream HTTP status to a failure class.
// Network-level failures (timeouts, resets) are classified by the caller,
// which knows whether the per-attempt budget or the overall deadline fired.
func ClassifyStatusCode(statusCode int) FailureClass {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	case http.StatusNotFound:
		return FailureNotFound
	case http.StatusTooManyRequests:
		return FailureRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return FailurePermanent
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return FailureTransient
	default:
		return FailureUnknown
	}
}

// AllowsFailover reports whether a failed attempt with this class may move
// on to the next provider in the chain. Only permanent failures pin the
// request: they expose a client bug that every provider would reject.
func (f FailureClass) AllowsFailover() bool {
	switch f {
	case FailureAuth, FailureNotFound, FailureRateLimited, FailureTransient, FailureTimeout, FailureUnknown:
		return true
	default:
		return false
	}
}

// AllowsSameProviderRetry reports whether the same provider may be retried
// before moving on. Transient failures get one backed-off retry;
// rate-limited providers are retried only when no alternative remains.
func (f FailureClass) AllowsSameProviderRetry() bool {
	switch f {
	case FailureTransient, FailureRateLimited:
		return true
	default:
		return false
	}
}

func (f FailureClass) String() string {
	return string(f)
}

package model

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatusCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		statusCode int
		want       FailureClass
	}{
		{"unauthorized", http.StatusUnauthorized, FailureAuth},
		{"forbidden", http.StatusForbidden, FailureAuth},
		{"not found", http.StatusNotFound, FailureNotFound},
		{"too many requests", http.StatusTooManyRequests, FailureRateLimited},
		{"bad request", http.StatusBadRequest, FailurePermanent},
		{"unprocessable", http.StatusUnprocessableEntity, FailurePermanent},
		{"bad gateway", http.StatusBadGateway, FailureTransient},
		{"service unavailable", http.StatusServiceUnavailable, FailureTransient},
		{"gateway timeout", http.StatusGatewayTimeout, FailureTransient},
		{"plain 500", http.StatusInternalServerError, FailureUnknown},
		{"teapot", http.StatusTeapot, FailureUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ClassifyStatusCode(tt.statusCode))
		})
	}
}

func TestFailureClassEligibility(t *testing.T) {
	t.Parallel()

	failoverEligible := []FailureClass{
		FailureAuth, FailureNotFound, FailureRateLimited,
		FailureTransient, FailureTimeout, FailureUnknown,
	}
	for _, class := range failoverEligible {
		require.True(t, class.AllowsFailover(), "class %s should allow failover", class)
	}
	require.False(t, FailurePermanent.AllowsFailover(), "permanent failures pin the request")

	require.True(t, FailureTransient.AllowsSameProviderRetry())
	require.True(t, FailureRateLimited.AllowsSameProviderRetry())
	for _, class := range []FailureClass{FailureAuth, FailureNotFound, FailurePermanent, FailureTimeout, FailureUnknown} {
		require.False(t, class.AllowsSameProviderRetry(), "class %s should not retry same provider", class)
	}
}

func TestFailureClassOfOverride(t *testing.T) {
	t.Parallel()

	var nilErr *ErrorWithStatusCode
	require.Equal(t, FailureUnknown, nilErr.FailureClassOf())

	fromStatus := &ErrorWithStatusCode{StatusCode: http.StatusServiceUnavailable}
	require.Equal(t, FailureTransient, fromStatus.FailureClassOf())

	// A transport-level timeout carries no upstream status worth trusting.
	overridden := &ErrorWithStatusCode{StatusCode: http.StatusGatewayTimeout, Class: FailureTimeout}
	require.Equal(t, FailureTimeout, overridden.FailureClassOf())
}

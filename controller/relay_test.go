package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/provider"
)

func withRetryTimes(t *testing.T, n int) {
	t.Helper()
	prev := config.RetryTimes
	config.RetryTimes = n
	t.Cleanup(func() { config.RetryTimes = prev })
}

func withPerAttemptBudget(t *testing.T, sec int) {
	t.Helper()
	prev := config.PerAttemptBudgetSec
	config.PerAttemptBudgetSec = sec
	t.Cleanup(func() { config.PerAttemptBudgetSec = prev })
}

// slowChatUpstream answers completions only after the given delay, unless
// the relay gives up and drops the connection first.
func slowChatUpstream(t *testing.T, delay time.Duration, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o"}]}`))
			return
		}
		atomic.AddInt32(calls, 1)
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"late"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRelayFirstProviderSucceeds(t *testing.T) {
	withRetryTimes(t, 0)
	var calls int32
	srv := chatUpstream(t, http.StatusOK, &calls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "primary", Family: "openai_compatible", BaseURL: srv.URL, APIKey: "sk-a"},
	}})

	c, w := newRelayContext(t, []string{"primary"})
	Relay(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "hello there")
	require.EqualValues(t, 1, calls)
}

func TestRelayFailsOverOnTransientError(t *testing.T) {
	withRetryTimes(t, 0)
	var primaryCalls, backupCalls int32
	bad := chatUpstream(t, http.StatusServiceUnavailable, &primaryCalls)
	good := chatUpstream(t, http.StatusOK, &backupCalls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "primary", Family: "openai_compatible", BaseURL: bad.URL, APIKey: "sk-a"},
		{Id: "backup", Family: "openai_compatible", BaseURL: good.URL, APIKey: "sk-b"},
	}})

	c, w := newRelayContext(t, []string{"primary", "backup"})
	Relay(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "hello there")
	require.EqualValues(t, 1, primaryCalls)
	require.EqualValues(t, 1, backupCalls)

	// The winning attempt was a replay, so its settlement carries the
	// derived attempt id.
	m := meta.GetByContext(c)
	require.Equal(t, c.GetString(ctxkey.RequestId)+"-r1", m.AttemptId)
}

func TestRelayPermanentErrorDoesNotFailOver(t *testing.T) {
	withRetryTimes(t, 0)
	var primaryCalls, backupCalls int32
	bad := chatUpstream(t, http.StatusBadRequest, &primaryCalls)
	good := chatUpstream(t, http.StatusOK, &backupCalls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "primary", Family: "openai_compatible", BaseURL: bad.URL, APIKey: "sk-a"},
		{Id: "backup", Family: "openai_compatible", BaseURL: good.URL, APIKey: "sk-b"},
	}})

	c, w := newRelayContext(t, []string{"primary", "backup"})
	Relay(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.EqualValues(t, 1, primaryCalls)
	require.Zero(t, backupCalls)

	var envelope struct {
		Error relaymodel.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "upstream unavailable", envelope.Error.Message)
}

func TestRelayExhaustedChainCollapsesTo502(t *testing.T) {
	withRetryTimes(t, 0)
	var aCalls, bCalls int32
	a := chatUpstream(t, http.StatusServiceUnavailable, &aCalls)
	b := chatUpstream(t, http.StatusServiceUnavailable, &bCalls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "a", Family: "openai_compatible", BaseURL: a.URL, APIKey: "sk-a"},
		{Id: "b", Family: "openai_compatible", BaseURL: b.URL, APIKey: "sk-b"},
	}})

	c, w := newRelayContext(t, []string{"a", "b"})
	Relay(c)

	require.Equal(t, http.StatusBadGateway, w.Code)
	require.EqualValues(t, 1, aCalls)
	require.EqualValues(t, 1, bCalls)

	var envelope struct {
		Error relaymodel.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "provider_unavailable", envelope.Error.Code)
	require.Contains(t, envelope.Error.Message, "all providers failed")
}

func TestRelaySameProviderRetryOnTransient(t *testing.T) {
	withRetryTimes(t, 1)
	var calls int32
	srv := chatUpstream(t, http.StatusServiceUnavailable, &calls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "only", Family: "openai_compatible", BaseURL: srv.URL, APIKey: "sk-a"},
	}})

	c, w := newRelayContext(t, []string{"only"})
	Relay(c)

	require.Equal(t, http.StatusBadGateway, w.Code)
	require.EqualValues(t, 2, calls)
}

func TestRelayAttemptBudgetCutsSlowProvider(t *testing.T) {
	withRetryTimes(t, 0)
	withPerAttemptBudget(t, 1)
	var calls int32
	srv := slowChatUpstream(t, 10*time.Second, &calls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "slow", Family: "openai_compatible", BaseURL: srv.URL, APIKey: "sk-a"},
	}})

	c, w := newRelayContext(t, []string{"slow"})
	start := time.Now()
	Relay(c)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Contains(t, w.Body.String(), "provider_timeout")
	require.Less(t, elapsed, 5*time.Second, "the attempt must be cut at its budget, not ride out the upstream")
	require.EqualValues(t, 1, calls)
}

func TestRelayEmptyChain(t *testing.T) {
	installBindings(t, &provider.Config{})

	c, w := newRelayContext(t, nil)
	Relay(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "no provider available")
}

func TestRetrySameProviderPolicy(t *testing.T) {
	require.True(t, retrySameProvider(relaymodel.FailureTransient, 0, false))
	require.True(t, retrySameProvider(relaymodel.FailureTimeout, 0, true))

	// A rate-limited provider only deserves a retry when it is the last
	// option and asked for a short wait.
	require.False(t, retrySameProvider(relaymodel.FailureRateLimited, 2*time.Second, false))
	require.True(t, retrySameProvider(relaymodel.FailureRateLimited, 2*time.Second, true))
	require.False(t, retrySameProvider(relaymodel.FailureRateLimited, time.Minute, true))
	require.False(t, retrySameProvider(relaymodel.FailureRateLimited, 0, true))

	require.False(t, retrySameProvider(relaymodel.FailurePermanent, 0, true))
	require.False(t, retrySameProvider(relaymodel.FailureAuth, 0, true))
	require.False(t, retrySameProvider(relaymodel.FailureAbandoned, 0, true))
}

func TestComposeFinalError(t *testing.T) {
	nilCase := composeFinalError(nil)
	require.Equal(t, http.StatusServiceUnavailable, nilCase.StatusCode)

	timeout := composeFinalError(&relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusGatewayTimeout,
		Class:      relaymodel.FailureTimeout,
		Error:      relaymodel.Error{Message: "deadline exceeded", Type: "api_error"},
	})
	require.Equal(t, http.StatusGatewayTimeout, timeout.StatusCode)
	require.Equal(t, "provider_timeout", timeout.Code)

	transient := composeFinalError(&relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusServiceUnavailable,
		Error:      relaymodel.Error{Message: "overloaded", Type: "api_error"},
	})
	require.Equal(t, http.StatusBadGateway, transient.StatusCode)
	require.Contains(t, transient.Message, "overloaded")

	permanent := composeFinalError(&relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusBadRequest,
		Error:      relaymodel.Error{Message: "bad prompt", Type: "invalid_request_error"},
	})
	require.Equal(t, http.StatusBadRequest, permanent.StatusCode)
	require.Equal(t, "bad prompt", permanent.Message)
}

func TestPreferTerminalKeepsPermanent(t *testing.T) {
	permanent := &relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusBadRequest,
		Error:      relaymodel.Error{Message: "bad prompt"},
	}
	transient := &relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusServiceUnavailable,
		Error:      relaymodel.Error{Message: "overloaded"},
	}

	require.Same(t, permanent, preferTerminal(permanent, transient))
	require.Same(t, transient, preferTerminal(nil, transient))
	require.Same(t, permanent, preferTerminal(transient, permanent))
}

func TestRetryAfterOf(t *testing.T) {
	require.Zero(t, retryAfterOf(&relaymodel.ErrorWithStatusCode{}))
	seconds := 4
	require.Equal(t, 4*time.Second, retryAfterOf(&relaymodel.ErrorWithStatusCode{
		Error: relaymodel.Error{RetryAfter: &seconds},
	}))
}

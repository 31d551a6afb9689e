package controller

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

func upstreamResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestRelayErrorHandlerOpenAIEnvelope(t *testing.T) {
	resp := upstreamResponse(http.StatusTooManyRequests,
		`{"error":{"message":"rate limit exceeded","type":"rate_limit_error","code":"rate_limit_exceeded"}}`,
		nil)

	errResp := RelayErrorHandler(resp)
	require.Equal(t, http.StatusTooManyRequests, errResp.StatusCode)
	require.Equal(t, "rate limit exceeded", errResp.Message)
	require.Equal(t, "rate_limit_error", errResp.Type)
	require.Equal(t, relaymodel.FailureRateLimited, errResp.FailureClassOf())
}

func TestRelayErrorHandlerClaudeEnvelope(t *testing.T) {
	resp := upstreamResponse(529,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		nil)

	errResp := RelayErrorHandler(resp)
	require.Equal(t, "Overloaded", errResp.Message)
	require.Equal(t, "overloaded_error", errResp.Type)
}

func TestRelayErrorHandlerOpaqueBody(t *testing.T) {
	resp := upstreamResponse(http.StatusBadGateway, "<html>bad gateway</html>", nil)

	errResp := RelayErrorHandler(resp)
	require.Equal(t, http.StatusBadGateway, errResp.StatusCode)
	require.Equal(t, "<html>bad gateway</html>", errResp.Message)
	require.Equal(t, "upstream_error", errResp.Code)
}

func TestRelayErrorHandlerEmptyBody(t *testing.T) {
	resp := upstreamResponse(http.StatusServiceUnavailable, "", nil)

	errResp := RelayErrorHandler(resp)
	require.Contains(t, errResp.Message, "503")
}

func TestRelayErrorHandlerRetryAfterSeconds(t *testing.T) {
	resp := upstreamResponse(http.StatusTooManyRequests,
		`{"error":{"message":"slow down","type":"rate_limit_error"}}`,
		map[string]string{"Retry-After": "7"})

	errResp := RelayErrorHandler(resp)
	require.NotNil(t, errResp.RetryAfter)
	require.Equal(t, 7, *errResp.RetryAfter)
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	at := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(at)
	require.Greater(t, d, 20*time.Second)
	require.LessOrEqual(t, d, 30*time.Second)

	require.Zero(t, parseRetryAfter(""))
	require.Zero(t, parseRetryAfter("garbage"))
	// Past dates carry no useful pacing hint.
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	require.Zero(t, parseRetryAfter(past))
}

func TestRespondWithErrorOpenAIDialect(t *testing.T) {
	c, w := newTestContext(t)
	seconds := 3
	RespondWithError(c, &relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusTooManyRequests,
		Error: relaymodel.Error{
			Message:    "slow down",
			Type:       "rate_limit_error",
			Code:       "rate_limit_exceeded",
			RetryAfter: &seconds,
		},
	})

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "3", w.Header().Get("Retry-After"))

	var envelope struct {
		Error relaymodel.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "slow down", envelope.Error.Message)
	require.Equal(t, "rate_limit_error", envelope.Error.Type)
}

func TestRespondWithErrorClaudeDialect(t *testing.T) {
	c, w := newTestContext(t)
	c.Set(ctxkey.ClaudeMessagesNative, true)
	RespondWithError(c, &relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusServiceUnavailable,
		Error: relaymodel.Error{
			Message: "all providers failed",
			Type:    "api_error",
		},
	})

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var envelope struct {
		Type  string                  `json:"type"`
		Error relaymodel.ClaudeError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "error", envelope.Type)
	require.Equal(t, "overloaded_error", envelope.Error.Type)
	require.Equal(t, "all providers failed", envelope.Error.Message)
}

func TestRespondWithErrorAfterStreamCommitWritesNothing(t *testing.T) {
	c, w := newTestContext(t)
	c.Set(ctxkey.StreamCommitted, true)
	RespondWithError(c, &relaymodel.ErrorWithStatusCode{
		StatusCode: http.StatusBadGateway,
		Error:      relaymodel.Error{Message: "late failure"},
	})

	require.Empty(t, w.Body.String())
}

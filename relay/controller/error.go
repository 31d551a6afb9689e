package controller

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

// upstreamErrorBodyLimit bounds how much of a failed upstream body is read
// for the error envelope.
const upstreamErrorBodyLimit = 1 << 20

// RelayErrorHandler folds a non-200 upstream response into the gateway's
// error envelope. OpenAI and Claude error bodies are recognized; anything
// else surfaces as an opaque upstream error with the original status. The
// Retry-After header is captured so the failover engine and the client both
// see the upstream's pacing hint.
func RelayErrorHandler(resp *http.Response) *relaymodel.ErrorWithStatusCode {
	defer func() { _ = resp.Body.Close() }()

	errResp := &relaymodel.ErrorWithStatusCode{
		StatusCode: resp.StatusCode,
		Error: relaymodel.Error{
			Message: "upstream returned status " + strconv.Itoa(resp.StatusCode),
			Type:    openai.ErrorTypeForStatus(resp.StatusCode),
			Code:    "upstream_error",
		},
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, upstreamErrorBodyLimit))
	if err == nil && len(body) > 0 {
		if wireErr, ok := parseUpstreamError(body); ok {
			errResp.Error = *wireErr
		} else {
			errResp.Message = string(body)
		}
	}
	errResp.RawError = errors.New(errResp.Message)

	if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
		seconds := int(retryAfter / time.Second)
		errResp.RetryAfter = &seconds
	}
	return errResp
}

// parseUpstreamError probes the two error envelopes providers actually
// send: the OpenAI {"error": {...}} wrapper and the Anthropic
// {"type": "error", "error": {...}} wrapper.
func parseUpstreamError(body []byte) (*relaymodel.Error, bool) {
	var openaiEnvelope struct {
		Error *relaymodel.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &openaiEnvelope); err == nil &&
		openaiEnvelope.Error != nil && openaiEnvelope.Error.Message != "" {
		return openaiEnvelope.Error, true
	}

	var claudeEnvelope struct {
		Type  string                   `json:"type"`
		Error *relaymodel.ClaudeError `json:"error"`
	}
	if err := json.Unmarshal(body, &claudeEnvelope); err == nil &&
		claudeEnvelope.Error != nil && claudeEnvelope.Error.Message != "" {
		return &relaymodel.Error{
			Message: claudeEnvelope.Error.Message,
			Type:    claudeEnvelope.Error.Type,
			Code:    claudeEnvelope.Error.Type,
		}, true
	}
	return nil, false
}

// parseRetryAfter handles both forms of the header: delta seconds and an
// HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// RespondWithError writes the terminal error in the client's dialect. After
// the stream commit point the renderers have already emitted an in-band
// error event, so nothing more goes on the wire.
func RespondWithError(c *gin.Context, errResp *relaymodel.ErrorWithStatusCode) {
	if errResp == nil || c.GetBool(ctxkey.StreamCommitted) {
		return
	}
	if errResp.RetryAfter != nil && *errResp.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(*errResp.RetryAfter))
	}
	if c.GetBool(ctxkey.ClaudeMessagesNative) {
		c.JSON(errResp.StatusCode, gin.H{
			"type": "error",
			"error": relaymodel.ClaudeError{
				Type:    claudeErrorType(errResp),
				Message: errResp.Message,
			},
		})
		return
	}
	c.JSON(errResp.StatusCode, gin.H{"error": errResp.Error})
}

func claudeErrorType(errResp *relaymodel.ErrorWithStatusCode) string {
	switch {
	case errResp.StatusCode == http.StatusUnauthorized || errResp.StatusCode == http.StatusForbidden:
		return "authentication_error"
	case errResp.StatusCode == http.StatusNotFound:
		return "not_found_error"
	case errResp.StatusCode == http.StatusTooManyRequests:
		return "rate_limit_error"
	case errResp.StatusCode == http.StatusServiceUnavailable:
		return "overloaded_error"
	case errResp.StatusCode >= 400 && errResp.StatusCode < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// Package controller implements the per-dialect relay helpers: parse and
// validate the client request, convert it through the provider adaptor,
// execute the upstream exchange, and hand the result to metering. The
// failover engine above re-invokes a helper once per provider attempt, so
// everything here must be replayable from the cached request body.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay"
	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/apitype"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

// prepareAdaptor resolves and initializes the adaptor for the attempt's
// wire protocol.
func prepareAdaptor(m *meta.Meta) (adaptor.Adaptor, *relaymodel.ErrorWithStatusCode) {
	a := relay.GetAdaptor(m.ApiType)
	if a == nil {
		return nil, openai.ErrorWrapper(
			errors.Errorf("no adaptor for api type %d", m.ApiType),
			"invalid_api_type", http.StatusInternalServerError)
	}
	a.Init(m)
	return a, nil
}

// upstreamBody builds the outbound request body for one attempt. Adaptors
// that perform their own transport get no body; direct passthrough reuses
// the client's raw bytes so unmodeled fields survive.
func upstreamBody(c *gin.Context, m *meta.Meta, converted any) (io.Reader, error) {
	if m.ApiType == apitype.AwsBedrock {
		return nil, nil
	}
	if canReuseRawBody(c, m) {
		raw, err := common.GetRequestBody(c)
		if err != nil {
			return nil, errors.Wrap(err, "reuse request body for passthrough")
		}
		return bytes.NewReader(raw), nil
	}
	payload, err := json.Marshal(converted)
	if err != nil {
		return nil, errors.Wrap(err, "marshal converted request")
	}
	return bytes.NewReader(payload), nil
}

// canReuseRawBody reports whether the client's raw bytes can go upstream
// verbatim, which preserves fields the gateway does not model. Any gateway
// mutation (injected history, defaulted max_tokens, a provider-prefixed
// model id) forces a re-marshal of the typed request instead.
func canReuseRawBody(c *gin.Context, m *meta.Meta) bool {
	if !c.GetBool(ctxkey.ClaudeDirectPassthrough) {
		return false
	}
	if c.GetBool(ctxkey.SessionHistoryInjected) {
		return false
	}
	if _, defaulted := c.Get(ctxkey.MaxTokensDefaulted); defaulted {
		return false
	}
	// Gateway extension fields in the raw body must not leak upstream.
	if m.SessionId != "" || c.GetString(ctxkey.ProviderHint) != "" {
		return false
	}
	return m.OriginModelName == m.ActualModelName
}

// beginAttemptBudget puts a deadline on one non-streaming provider attempt,
// clipped to whatever remains of the overall relay deadline. The returned
// func cancels the attempt context and restores the original request so the
// next attempt starts from a clean budget. Streams are exempt: their
// liveness is policed by the idle watchdog instead.
func beginAttemptBudget(c *gin.Context, m *meta.Meta) func() {
	if m.IsStream {
		return func() {}
	}
	budget := config.PerAttemptBudget()
	if v, ok := c.Get(ctxkey.RelayDeadline); ok {
		if deadline, ok := v.(time.Time); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < budget {
				budget = remaining
			}
		}
	}
	parent := c.Request
	attemptCtx, cancel := context.WithTimeout(parent.Context(), budget)
	c.Request = parent.WithContext(attemptCtx)
	return func() {
		cancel()
		c.Request = parent
	}
}

// doUpstreamRequest executes one provider exchange and classifies non-200
// replies into the gateway error envelope. A nil response with a nil error
// means the adaptor transports the call itself inside DoResponse.
func doUpstreamRequest(c *gin.Context, m *meta.Meta, a adaptor.Adaptor, converted any) (*http.Response, *relaymodel.ErrorWithStatusCode) {
	body, err := upstreamBody(c, m, converted)
	if err != nil {
		return nil, openai.ErrorWrapper(err, "build_request_body_failed", http.StatusInternalServerError)
	}

	resp, err := a.DoRequest(c, m, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			errResp := openai.ErrorWrapper(err, "provider_timeout", http.StatusGatewayTimeout)
			errResp.Class = relaymodel.FailureTimeout
			return nil, errResp
		}
		return nil, openai.ErrorWrapper(err, "do_request_failed", http.StatusBadGateway)
	}
	if resp != nil && resp.StatusCode != http.StatusOK {
		return nil, RelayErrorHandler(resp)
	}
	return resp, nil
}

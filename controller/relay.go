// Package controller hosts the HTTP entry points: the failover engine that
// drives the relay helpers across the provider chain, the model listing,
// and the status endpoint.
package controller

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/monitor"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/billing"
	relaycontroller "github.com/modelrelay/modelrelay/relay/controller"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/provider"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// sameProviderRetryAfterMax bounds the Retry-After a 429 may ask for before
// the engine gives up waiting and moves on.
const sameProviderRetryAfterMax = 5 * time.Second

// Relay walks the admission-built provider chain until one attempt
// succeeds. Each attempt re-runs the dialect helper against the cached
// request body with the next binding applied. Permanent failures pin to
// their provider and surface immediately; everything else fails over, with
// a bounded number of same-provider retries for transient faults. Once any
// byte has streamed to the client the chain is abandoned: the renderers
// already emitted an in-band terminal error.
func Relay(c *gin.Context) {
	lg := gmw.GetLogger(c)
	ctx := gmw.Ctx(c)
	m := meta.GetByContext(c)

	chain := providerChain(c)
	if len(chain) == 0 {
		RespondWithError(c, openai.ErrorWrapper(
			errors.New("no provider available for this model"),
			"provider_unavailable", http.StatusServiceUnavailable))
		return
	}

	requestId := c.GetString(ctxkey.RequestId)
	deadline := time.Now().Add(config.RelayTimeout())
	if config.RelayTimeoutSec > 0 {
		c.Set(ctxkey.RelayDeadline, deadline)
	}

	var lastErr *relaymodel.ErrorWithStatusCode
	retriesUsed := 0
	attempt := 0
	for i := 0; i < len(chain); i++ {
		binding, ok := provider.Get(chain[i])
		if !ok {
			continue
		}
		m.ApplyBinding(binding)
		c.Set(ctxkey.ProviderId, binding.Id)

		// Replays carry a derived attempt id so ledger metadata and
		// activity rows can tell them apart from the first try.
		m.AttemptId = requestId
		if attempt > 0 {
			m.AttemptId = helper.ChildRequestID(requestId, attempt)
		}
		attempt++

		attemptStart := time.Now()
		errResp := dispatchByMode(c, m)
		latency := time.Since(attemptStart)

		if errResp == nil {
			monitor.ReportSuccess(ctx, binding.Id)
			metrics.GlobalRecorder.RecordProviderAttempt(binding.Id, "success", latency)
			return
		}

		class := errResp.FailureClassOf()
		retryAfter := retryAfterOf(errResp)
		// An abandoned attempt says nothing about the provider's health.
		if class != relaymodel.FailureAbandoned {
			monitor.Emit(ctx, binding.Id, class, retryAfter)
		}
		metrics.GlobalRecorder.RecordProviderAttempt(binding.Id, class.String(), latency)
		lastErr = preferTerminal(lastErr, errResp)

		lg.Warn("provider attempt failed",
			zap.String("provider", binding.Id),
			zap.String("class", class.String()),
			zap.Int("status_code", errResp.StatusCode),
			zap.Duration("latency", latency),
			zap.String("message", errResp.Message))

		if c.GetBool(ctxkey.StreamCommitted) {
			break
		}
		if !class.AllowsFailover() {
			break
		}
		if config.RelayTimeoutSec > 0 && time.Now().After(deadline) {
			break
		}

		lastInChain := i == len(chain)-1
		if retriesUsed < config.RetryTimes && retrySameProvider(class, retryAfter, lastInChain) {
			retriesUsed++
			lg.Info("retrying same provider",
				zap.String("provider", binding.Id),
				zap.String("attempt_id", helper.ChildRequestID(requestId, attempt)))
			waitBeforeRetry(ctx, retryAfter)
			i--
		}
		resetAttemptState(c)
	}

	finalErr := composeFinalError(lastErr)
	if !c.GetBool(ctxkey.StreamCommitted) {
		// Nothing reached the client, so nothing was consumed on its behalf.
		billing.Settle(c, m, &relaymodel.Usage{}, finalErr.StatusCode, billing.OutcomeOf(lastErr))
	}
	RespondWithError(c, finalErr)
}

func providerChain(c *gin.Context) []string {
	v, ok := c.Get(ctxkey.ProviderChain)
	if !ok {
		return nil
	}
	chain, _ := v.([]string)
	return chain
}

func dispatchByMode(c *gin.Context, m *meta.Meta) *relaymodel.ErrorWithStatusCode {
	switch m.Mode {
	case relaymode.ClaudeMessages:
		return relaycontroller.RelayClaudeMessagesHelper(c)
	case relaymode.ResponseAPI:
		return relaycontroller.RelayResponseAPIHelper(c)
	case relaymode.ImagesGenerations:
		return relaycontroller.RelayImageHelper(c)
	default:
		return relaycontroller.RelayTextHelper(c)
	}
}

// retrySameProvider decides whether the failed provider deserves another
// shot before the chain moves on. Transient faults always do, once the
// retry budget allows. Rate limits only when no alternative remains and
// the upstream asked for a short enough wait.
func retrySameProvider(class relaymodel.FailureClass, retryAfter time.Duration, lastInChain bool) bool {
	switch class {
	case relaymodel.FailureTransient, relaymodel.FailureTimeout:
		return true
	case relaymodel.FailureRateLimited:
		return lastInChain && retryAfter > 0 && retryAfter <= sameProviderRetryAfterMax
	}
	return false
}

// waitBeforeRetry sleeps the upstream's pacing hint, or a short jittered
// backoff when there is none. Aborts early when the client goes away.
func waitBeforeRetry(ctx context.Context, retryAfter time.Duration) {
	wait := retryAfter
	if wait <= 0 {
		wait = 200*time.Millisecond + time.Duration(rand.Int63n(int64(400*time.Millisecond)))
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// resetAttemptState rewinds the request for the next attempt: the body
// replays from cache and per-attempt conversion flags clear so one family's
// markers do not leak into the next.
func resetAttemptState(c *gin.Context) {
	if body, err := common.GetRequestBody(c); err == nil {
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	c.Set(ctxkey.ClaudeDirectPassthrough, false)
	c.Set(ctxkey.SessionHistoryInjected, false)
	c.Set(ctxkey.ConvertedRequest, nil)
}

func retryAfterOf(errResp *relaymodel.ErrorWithStatusCode) time.Duration {
	if errResp.RetryAfter == nil || *errResp.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(*errResp.RetryAfter) * time.Second
}

// preferTerminal keeps the most actionable error for the client: a
// permanent (non-failover) failure describes the request's own defect and
// beats whatever transient noise came after it.
func preferTerminal(current, candidate *relaymodel.ErrorWithStatusCode) *relaymodel.ErrorWithStatusCode {
	if current != nil && !current.FailureClassOf().AllowsFailover() {
		return current
	}
	return candidate
}

// composeFinalError shapes the all-attempts-failed response. Permanent and
// auth-class errors surface verbatim; exhausted transient chains collapse
// into a gateway unavailability error so upstream internals do not leak.
func composeFinalError(lastErr *relaymodel.ErrorWithStatusCode) *relaymodel.ErrorWithStatusCode {
	if lastErr == nil {
		return openai.ErrorWrapper(
			errors.New("no provider could be attempted"),
			"provider_unavailable", http.StatusServiceUnavailable)
	}
	switch lastErr.FailureClassOf() {
	case relaymodel.FailureTimeout:
		return openai.ErrorWrapper(
			errors.New("all providers timed out"),
			"provider_timeout", http.StatusGatewayTimeout)
	case relaymodel.FailureTransient:
		return &relaymodel.ErrorWithStatusCode{
			StatusCode: http.StatusBadGateway,
			Error: relaymodel.Error{
				Message: "all providers failed: " + lastErr.Message,
				Type:    "api_error",
				Code:    "provider_unavailable",
			},
			RawError: lastErr.RawError,
		}
	}
	return lastErr
}

// RespondWithError writes the terminal error envelope in the client's
// dialect; shared with the relay helpers.
func RespondWithError(c *gin.Context, errResp *relaymodel.ErrorWithStatusCode) {
	relaycontroller.RespondWithError(c, errResp)
}

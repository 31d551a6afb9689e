// Package billing applies the metering tail after a response has been
// written. The tail is asynchronous and must never fail the request it
// meters: every error here is logged and counted, not surfaced.
package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/graceful"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/middleware"
	"github.com/modelrelay/modelrelay/model"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// Settlement is one request's metering input, captured from the request
// context before the tail detaches from it.
type Settlement struct {
	RequestId    string
	AttemptId    string
	PrincipalId  int64
	CredentialId int64
	ProviderId   string
	Model        string

	Usage   *relaymodel.Usage
	CostUSD float64

	StatusCode   int
	Outcome      string
	FirstTokenMs int64
	TotalMs      int64
}

// Settle meters a finished request: token windows update synchronously so
// admission sees the burst, then the ledger, activity and counter writes run
// on a shutdown-protected goroutine with the billing deadline applied.
func Settle(c *gin.Context, m *meta.Meta, usage *relaymodel.Usage, statusCode int, outcome string) {
	if m == nil || m.PrincipalId == 0 {
		return
	}
	if usage == nil {
		usage = &relaymodel.Usage{PromptTokens: m.PromptTokens, TotalTokens: m.PromptTokens}
	}

	var cost float64
	if m.Price != nil {
		if m.Mode == relaymode.ImagesGenerations {
			n := usage.CompletionTokens
			if n <= 0 {
				n = 1
			}
			cost = m.Price.ImageCost(n)
		} else {
			cost = m.Price.Cost(usage)
		}
	}

	s := &Settlement{
		RequestId:    c.GetString(ctxkey.RequestId),
		AttemptId:    m.AttemptId,
		PrincipalId:  m.PrincipalId,
		CredentialId: m.CredentialId,
		ProviderId:   m.ProviderId,
		Model:        m.OriginModelName,
		Usage:        usage,
		CostUSD:      cost,
		StatusCode:   statusCode,
		Outcome:      outcome,
		TotalMs:      time.Since(m.StartTime).Milliseconds(),
	}
	if v, ok := c.Get(ctxkey.FirstTokenAt); ok {
		if at, ok := v.(time.Time); ok {
			s.FirstTokenMs = at.Sub(m.StartTime).Milliseconds()
		}
	}

	middleware.RecordTokenUsage(c, m.CredentialId, int64(usage.TotalTokens))
	metrics.GlobalRecorder.RecordRelayRequest(m.StartTime, m.ProviderId, m.OriginModelName,
		relaymode.String(m.Mode), m.PrincipalId, outcome == OutcomeSuccess,
		usage.PromptTokens, usage.CompletionTokens, cost)

	lg := gmw.GetLogger(c)
	graceful.GoCritical(gmw.BackgroundCtx(c), "billing-settle", func(ctx context.Context) {
		deadline := time.Duration(config.BillingTimeoutSec) * time.Second
		ctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		start := time.Now()
		if err := Apply(ctx, s); err != nil {
			metrics.GlobalRecorder.RecordError("billing", "settle")
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.GlobalRecorder.RecordBillingTimeout(s.PrincipalId, s.ProviderId,
					s.Model, s.CostUSD, time.Since(start))
			}
			lg.Error("billing settlement failed",
				zap.String("request_id", s.RequestId),
				zap.Int64("principal_id", s.PrincipalId),
				zap.Float64("cost_usd", s.CostUSD),
				zap.Error(err))
		}
	})
}

// Outcomes recorded on activity rows.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeAbandoned = "abandoned"
)

// OutcomeOf maps a terminal relay error to the activity outcome. A client
// that hung up is not a provider failure and gets its own outcome.
func OutcomeOf(errResp *relaymodel.ErrorWithStatusCode) string {
	if errResp != nil && errResp.FailureClassOf() == relaymodel.FailureAbandoned {
		return OutcomeAbandoned
	}
	return OutcomeError
}

// Apply performs the settlement writes. Idempotent on the request id: the
// ledger and activity rows upsert, so a replay after a crash re-applies the
// same values instead of double-charging. Only the balance debit itself is
// not replay-safe, which is why the tail runs under the shutdown guard.
func Apply(ctx context.Context, s *Settlement) error {
	actualDebit, postDebt, err := model.DebitPrincipalBalance(ctx, s.PrincipalId, s.CostUSD)
	if err != nil {
		metrics.GlobalRecorder.RecordDebit("error", s.CostUSD)
		return errors.Wrap(err, "debit balance")
	}
	switch {
	case postDebt:
		metrics.GlobalRecorder.RecordDebit("post_debt", actualDebit)
	default:
		metrics.GlobalRecorder.RecordDebit("ok", actualDebit)
	}

	// Every successful request leaves a usage entry, even at zero cost, so
	// the ledger joins one-to-one with activity rows. Failed requests that
	// consumed nothing leave no entry.
	if s.CostUSD > 0 || s.Outcome == OutcomeSuccess {
		metadata, _ := json.Marshal(map[string]any{
			"attempted_cost": s.CostUSD,
			"provider":       s.ProviderId,
			"model":          s.Model,
			"attempt_id":     s.AttemptId,
		})
		if err := model.AppendUsageTransaction(ctx, &model.CreditTransaction{
			PrincipalId: s.PrincipalId,
			Amount:      -actualDebit,
			Reference:   s.RequestId,
			PostDebt:    postDebt,
			Metadata:    string(metadata),
		}); err != nil {
			return errors.Wrap(err, "append usage transaction")
		}
	}

	inTrial := false
	if principal, err := model.CacheGetPrincipal(ctx, s.PrincipalId); err == nil {
		inTrial = principal.InTrial(time.Now())
	}
	tokens := int64(0)
	if s.Usage != nil {
		tokens = int64(s.Usage.TotalTokens)
	}
	if err := model.BumpPrincipalUsage(ctx, s.PrincipalId, tokens, inTrial); err != nil {
		return errors.Wrap(err, "bump principal usage")
	}
	if err := model.BumpUsageWindow(ctx, s.PrincipalId, model.CurrentPeriod(time.Now()), tokens); err != nil {
		return errors.Wrap(err, "bump usage window")
	}

	record := &model.ActivityRecord{
		RequestId:    s.RequestId,
		AttemptId:    s.AttemptId,
		PrincipalId:  s.PrincipalId,
		CredentialId: s.CredentialId,
		Provider:     s.ProviderId,
		Model:        s.Model,
		Cost:         actualDebit,
		FirstTokenMs: s.FirstTokenMs,
		TotalMs:      s.TotalMs,
		StatusCode:   s.StatusCode,
		Outcome:      s.Outcome,
	}
	if s.Usage != nil {
		record.PromptTokens = s.Usage.PromptTokens
		record.CompletionTokens = s.Usage.CompletionTokens
		if s.Usage.CompletionTokensDetails != nil {
			record.ReasoningTokens = s.Usage.CompletionTokensDetails.ReasoningTokens
		}
	}
	if err := model.AppendActivity(ctx, record); err != nil {
		return errors.Wrap(err, "append activity")
	}

	// The cached principal still shows the pre-debit balance.
	model.InvalidatePrincipalCache(ctx, s.PrincipalId)
	return nil
}

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/graceful"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/common/network"
	"github.com/modelrelay/modelrelay/model"
)

// CredentialAuth is the first admission stage: it resolves the bearer
// credential to a principal and rejects everything that must never reach a
// provider regardless of which model is requested. Model-dependent checks
// (price snapshot, minimum balance) live in Distribute, which runs after
// the model id is known.
//
// Pipeline, each step short-circuiting with a typed error:
// credential lookup, credential validity, principal load, trial validity,
// plan caps. Rate limits follow in their own middleware.
func CredentialAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := gmw.Ctx(c)

		key := GetBearerCredential(c)
		if key == "" {
			metrics.GlobalRecorder.RecordCredentialAuth(false)
			AbortWithError(c, http.StatusUnauthorized, ErrTypeUnauthenticated,
				errors.New("missing bearer credential"))
			return
		}

		cred, err := model.CacheGetCredentialByHash(ctx, common.HashCredentialKey(key))
		if err != nil {
			metrics.GlobalRecorder.RecordCredentialAuth(false)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				AbortWithError(c, http.StatusUnauthorized, ErrTypeUnauthenticated,
					errors.New("invalid credential"))
				return
			}
			AbortWithError(c, http.StatusInternalServerError, "internal",
				errors.Wrap(err, "credential lookup"))
			return
		}

		if reason, ok := credentialRejection(c, cred); !ok {
			metrics.GlobalRecorder.RecordCredentialAuth(false)
			metrics.GlobalRecorder.RecordAdmissionReject(reason)
			AbortWithError(c, http.StatusForbidden, ErrTypeForbidden,
				errors.Errorf("credential rejected: %s", reason))
			return
		}
		metrics.GlobalRecorder.RecordCredentialAuth(true)

		principal, err := model.CacheGetPrincipal(ctx, cred.PrincipalId)
		if err != nil {
			AbortWithError(c, http.StatusInternalServerError, "internal",
				errors.Wrapf(err, "load principal %d", cred.PrincipalId))
			return
		}
		if !principal.IsActive() {
			metrics.GlobalRecorder.RecordAdmissionReject("principal_disabled")
			AbortWithError(c, http.StatusForbidden, ErrTypeForbidden,
				errors.New("account is disabled"))
			return
		}

		now := time.Now()
		if principal.InTrial(now) && principal.TrialState(now) == model.TrialExpired {
			metrics.GlobalRecorder.RecordAdmissionReject("trial_exhausted")
			AbortWithError(c, http.StatusPaymentRequired, ErrTypeTrialExhausted,
				errors.New("trial expired or over its token cap; convert to a paid plan to continue"))
			return
		}

		if aborted := enforcePlanCaps(c, principal, now); aborted {
			return
		}

		c.Set(ctxkey.PrincipalId, principal.Id)
		c.Set(ctxkey.Principal, principal)
		c.Set(ctxkey.CredentialId, cred.Id)
		c.Set(ctxkey.Credential, cred)
		c.Set(ctxkey.CredentialName, cred.Name)
		c.Set(ctxkey.Scopes, cred.ScopeList())

		credId := cred.Id
		graceful.GoCritical(gmw.BackgroundCtx(c), "touchCredential", func(ctx context.Context) {
			_ = model.TouchCredential(ctx, credId)
		})

		c.Next()
	}
}

// credentialRejection runs the credential-local validity checks and returns
// the rejection reason on failure.
func credentialRejection(c *gin.Context, cred *model.Credential) (string, bool) {
	now := time.Now()
	switch {
	case !cred.IsEnabled():
		return "credential_disabled", false
	case cred.IsExpired(now):
		return "credential_expired", false
	case cred.OverRequestCap():
		return "credential_request_cap", false
	}

	if allow := cred.IpAllowlistEntries(); len(allow) > 0 {
		if !network.IsIPInAllowlist(c.ClientIP(), allow) {
			return "ip_not_allowed", false
		}
	}
	if allow := cred.ReferrerAllowlistEntries(); len(allow) > 0 {
		if !network.MatchesReferrerAllowlist(c.Request.Referer(), allow) {
			return "referrer_not_allowed", false
		}
	}
	if scope := scopeForPath(c.Request.URL.Path); scope != "" {
		if !cred.AllowsScope(scope) {
			return "scope_not_allowed", false
		}
	}
	return "", true
}

// enforcePlanCaps checks the monthly request and token caps of the
// principal's plan against the rolling usage window. Returns true when the
// request was aborted.
func enforcePlanCaps(c *gin.Context, principal *model.Principal, now time.Time) bool {
	if principal.PlanId == nil {
		return false
	}
	ctx := gmw.Ctx(c)

	plan, err := model.GetPlan(ctx, *principal.PlanId)
	if err != nil {
		// A dangling plan reference must not lock the tenant out.
		gmw.GetLogger(c).Warn("plan lookup failed, skipping plan caps")
		return false
	}
	if plan.MonthlyRequestCap <= 0 && plan.MonthlyTokenCap <= 0 {
		return false
	}

	window, err := model.GetUsageWindow(ctx, principal.Id, model.CurrentPeriod(now))
	if err != nil {
		gmw.GetLogger(c).Warn("usage window lookup failed, skipping plan caps")
		return false
	}

	overRequests := plan.MonthlyRequestCap > 0 && window.RequestCount >= plan.MonthlyRequestCap
	overTokens := plan.MonthlyTokenCap > 0 && window.TokenCount >= plan.MonthlyTokenCap
	if !overRequests && !overTokens {
		return false
	}

	metrics.GlobalRecorder.RecordAdmissionReject("plan_limit_exceeded")
	AbortWithRetry(c, http.StatusTooManyRequests, ErrTypePlanLimitExceeded,
		errors.Errorf("monthly plan cap reached for plan %q", plan.Name),
		untilNextPeriod(now))
	return true
}

// untilNextPeriod returns the time remaining in the current monthly window.
func untilNextPeriod(now time.Time) time.Duration {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return next.Sub(u)
}

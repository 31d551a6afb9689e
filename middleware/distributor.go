package middleware

import (
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/model"
	"github.com/modelrelay/modelrelay/monitor"
	"github.com/modelrelay/modelrelay/relay/catalog"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/provider"
)

// Distribute is the model-aware half of admission. Once the model id is
// known it builds the ordered provider chain for the failover engine,
// freezes the price snapshot the request will bill at, applies the
// minimum-balance floor, and validates the session reference. Marks
// admission completion, from which first-token latency is measured.
func Distribute() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := gmw.Ctx(c)
		lg := gmw.GetLogger(c)

		req, err := getModelRequest(c)
		if err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrTypeValidation, err)
			return
		}
		c.Set(ctxkey.RequestModel, req.Model)
		if req.Provider != "" {
			c.Set(ctxkey.ProviderHint, req.Provider)
		}

		chain, err := BuildProviderChain(c, req.Model, req.Provider)
		if err != nil {
			metrics.GlobalRecorder.RecordAdmissionReject("model_unresolved")
			AbortWithError(c, http.StatusNotFound, ErrTypeNotFound, err)
			return
		}
		c.Set(ctxkey.ProviderChain, chain)

		// The snapshot is taken against the first provider in the chain and
		// bills the request no matter which provider ends up serving it.
		snapshot := catalog.Price(ctx, req.Model, chain[0])
		c.Set(ctxkey.PriceSnapshot, snapshot)

		if aborted := enforceBalanceFloor(c, req, snapshot.OutputUSDPerMTok); aborted {
			return
		}

		if req.SessionId != "" {
			principalId := c.GetInt64(ctxkey.PrincipalId)
			if _, err := model.GetSession(ctx, req.SessionId, principalId); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					AbortWithError(c, http.StatusNotFound, ErrTypeNotFound,
						errors.Errorf("unknown session %q", req.SessionId))
					return
				}
				AbortWithError(c, http.StatusInternalServerError, "internal",
					errors.Wrap(err, "load session"))
				return
			}
			c.Set(ctxkey.SessionId, req.SessionId)
		}

		lg.Debug("request admitted",
			zap.String("model", req.Model),
			zap.Strings("provider_chain", chain),
			zap.Bool("stream", req.Stream))
		c.Set(ctxkey.AdmissionCompletedAt, time.Now())
		c.Next()
	}
}

// BuildProviderChain constructs the ordered provider chain for a model. A
// client hint pins the chain to that single provider; otherwise the model
// resolves through the catalog and the configured neighbour set extends the
// chain. Unconfigured bindings drop out; suspended bindings sink to the
// back so they only serve when every healthy alternative failed.
func BuildProviderChain(c *gin.Context, modelId, hint string) ([]string, error) {
	ctx := gmw.Ctx(c)

	if hint != "" {
		if _, ok := provider.Get(hint); !ok {
			return nil, errors.Errorf("unknown provider %q", hint)
		}
		return []string{hint}, nil
	}

	var chain []string
	if resolved, ok := catalog.ResolveProvider(ctx, modelId); ok {
		chain = append(chain, resolved)
	}
	chain = append(chain, provider.NeighboursFor(meta.StripProviderPrefix(modelId))...)

	seen := make(map[string]bool, len(chain))
	var healthy, suspended []string
	for _, id := range chain {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := provider.Get(id); !ok {
			continue
		}
		if monitor.IsSuspended(id) {
			suspended = append(suspended, id)
			continue
		}
		healthy = append(healthy, id)
	}
	chain = append(healthy, suspended...)

	if len(chain) == 0 {
		return nil, errors.Errorf("no provider serves model %q", modelId)
	}
	return chain, nil
}

// enforceBalanceFloor applies the minimum-balance admission check: the
// static floor (global or plan override) raised by the cost of one
// max-token completion at the snapshot output price. A balance exactly at
// the floor is admitted. Returns true when the request was aborted.
func enforceBalanceFloor(c *gin.Context, req *ModelRequest, outputUSDPerMTok float64) bool {
	v, ok := c.Get(ctxkey.Principal)
	if !ok {
		return false
	}
	principal, ok := v.(*model.Principal)
	if !ok {
		return false
	}

	floor := config.MinBalanceFloor
	if principal.PlanId != nil {
		if plan, err := model.GetPlan(gmw.Ctx(c), *principal.PlanId); err == nil && plan.MinBalanceFloor > floor {
			floor = plan.MinBalanceFloor
		}
	}
	if req.MaxTokens > 0 && outputUSDPerMTok > 0 {
		if estimate := float64(req.MaxTokens) * outputUSDPerMTok / 1_000_000; estimate > floor {
			floor = estimate
		}
	}
	if floor <= 0 {
		return false
	}

	if principal.CreditBalance < floor {
		metrics.GlobalRecorder.RecordAdmissionReject("insufficient_credits")
		AbortWithError(c, http.StatusPaymentRequired, ErrTypeInsufficientCredits,
			errors.Errorf("balance %.6f below required floor %.6f; top up to continue", principal.CreditBalance, floor))
		return true
	}
	return false
}

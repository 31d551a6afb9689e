package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/model"
)

// rateWindow is one sliding-window ceiling. Windows are approximate: the
// counter is a fixed window anchored at its first hit, which the admission
// contract explicitly allows.
type rateWindow struct {
	name string
	span time.Duration
}

var rateWindows = []rateWindow{
	{"1m", time.Minute},
	{"1h", time.Hour},
	{"1d", 24 * time.Hour},
}

// requestLimits returns the per-window request ceilings for a credential,
// with the plan's per-minute override applied. Zero disables a window.
func requestLimits(c *gin.Context) [3]int64 {
	limits := [3]int64{
		config.RateLimitRequestsPerMinute,
		config.RateLimitRequestsPerHour,
		config.RateLimitRequestsPerDay,
	}
	if v, ok := c.Get(ctxkey.Principal); ok {
		if p, ok := v.(*model.Principal); ok && p.PlanId != nil {
			if plan, err := model.GetPlan(gmw.Ctx(c), *p.PlanId); err == nil && plan.RequestsPerMinute > 0 {
				limits[0] = plan.RequestsPerMinute
			}
		}
	}
	return limits
}

func tokenLimits(c *gin.Context) [3]int64 {
	limits := [3]int64{
		config.RateLimitTokensPerMinute,
		config.RateLimitTokensPerHour,
		config.RateLimitTokensPerDay,
	}
	if v, ok := c.Get(ctxkey.Principal); ok {
		if p, ok := v.(*model.Principal); ok && p.PlanId != nil {
			if plan, err := model.GetPlan(gmw.Ctx(c), *p.PlanId); err == nil && plan.TokensPerMinute > 0 {
				limits[0] = plan.TokensPerMinute
			}
		}
	}
	return limits
}

// RateLimit enforces the per-credential request and token ceilings across
// the 1 min / 1 hr / 1 day windows. Requests are counted at admission;
// tokens are charged by the billing tail via RecordTokenUsage, so the token
// check here sees usage up to the previous request.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		credId := c.GetInt64(ctxkey.CredentialId)
		if credId == 0 {
			c.Next()
			return
		}

		reqLimits := requestLimits(c)
		tokLimits := tokenLimits(c)
		for i, w := range rateWindows {
			if limit := reqLimits[i]; limit > 0 {
				count, remaining, err := windowCounters.incr(c, requestWindowKey(credId, w.name), w.span, 1)
				if err != nil {
					gmw.GetLogger(c).Warn("rate limit counter failed, admitting", zap.Error(err))
					continue
				}
				if count > limit {
					rejectRateLimited(c, w, remaining, "requests", limit)
					return
				}
			}
			if limit := tokLimits[i]; limit > 0 {
				count, remaining, err := windowCounters.incr(c, tokenWindowKey(credId, w.name), w.span, 0)
				if err != nil {
					gmw.GetLogger(c).Warn("rate limit counter failed, admitting", zap.Error(err))
					continue
				}
				if count >= limit {
					rejectRateLimited(c, w, remaining, "tokens", limit)
					return
				}
			}
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, w rateWindow, remaining time.Duration, kind string, limit int64) {
	metrics.GlobalRecorder.RecordRateLimitHit(w.name, kind)
	metrics.GlobalRecorder.RecordAdmissionReject("rate_limited")
	if remaining <= 0 || remaining > w.span {
		remaining = w.span
	}
	AbortWithRetry(c, http.StatusTooManyRequests, ErrTypeRateLimited,
		errors.Errorf("%s rate limit of %d per %s exceeded", kind, limit, w.name),
		remaining)
}

// RecordTokenUsage charges a finished request's tokens against the
// credential's token windows. Called from the billing tail, so a token
// burst is visible to admission one request late at worst.
func RecordTokenUsage(c *gin.Context, credentialId int64, tokens int64) {
	if credentialId == 0 || tokens <= 0 {
		return
	}
	for _, w := range rateWindows {
		if _, _, err := windowCounters.incr(c, tokenWindowKey(credentialId, w.name), w.span, tokens); err != nil {
			gmw.GetLogger(c).Warn("token window update failed", zap.Error(err))
		}
	}
}

func requestWindowKey(credentialId int64, window string) string {
	return fmt.Sprintf("rl:req:%d:%s", credentialId, window)
}

func tokenWindowKey(credentialId int64, window string) string {
	return fmt.Sprintf("rl:tok:%d:%s", credentialId, window)
}

// windowStore keeps the fixed-window counters. Redis serves multi-process
// deployments; the in-memory map is the single-node and outage fallback
// with best-effort semantics.
type windowStore struct {
	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	count int64
	reset time.Time
}

var windowCounters = &windowStore{local: make(map[string]*localWindow)}

// incr adds cost to the window counter and returns the post-increment count
// and the time until the window resets. A zero cost reads without counting.
func (s *windowStore) incr(c *gin.Context, key string, span time.Duration, cost int64) (int64, time.Duration, error) {
	if common.RedisEnabled {
		return s.incrRedis(c, key, span, cost)
	}
	return s.incrLocal(key, span, cost), s.localRemaining(key), nil
}

func (s *windowStore) incrRedis(c *gin.Context, key string, span time.Duration, cost int64) (int64, time.Duration, error) {
	ctx := gmw.Ctx(c)
	rkey := common.RedisKey(key)

	var count int64
	var err error
	if cost == 0 {
		count, err = common.RDB.IncrBy(ctx, rkey, 0).Result()
	} else {
		count, err = common.RDB.IncrBy(ctx, rkey, cost).Result()
	}
	if err != nil {
		return 0, 0, errors.Wrap(err, "incr window counter")
	}
	// First hit in the window arms the expiry; an unexpired key keeps its
	// original deadline.
	if count == cost || count == 0 {
		if err := common.RDB.Expire(ctx, rkey, span).Err(); err != nil {
			return count, span, errors.Wrap(err, "arm window expiry")
		}
	}
	ttl, err := common.RDB.TTL(ctx, rkey).Result()
	if err != nil || ttl < 0 {
		// A counter without expiry (crash between INCR and EXPIRE) gets
		// re-armed so it cannot throttle forever.
		_ = common.RDB.Expire(ctx, rkey, span).Err()
		ttl = span
	}
	return count, ttl, nil
}

func (s *windowStore) incrLocal(key string, span time.Duration, cost int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	w, ok := s.local[key]
	if !ok || now.After(w.reset) {
		w = &localWindow{reset: now.Add(span)}
		s.local[key] = w
	}
	w.count += cost
	return w.count
}

func (s *windowStore) localRemaining(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.local[key]; ok {
		if d := time.Until(w.reset); d > 0 {
			return d
		}
	}
	return 0
}

// resetWindows clears the in-memory counters. Test hook.
func resetWindows() {
	windowCounters.mu.Lock()
	windowCounters.local = make(map[string]*localWindow)
	windowCounters.mu.Unlock()
}

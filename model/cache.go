package model

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Laisky/zap"
	"github.com/jinzhu/copier"
	gocache "github.com/patrickmn/go-cache"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/logger"
)

// Lookup caches for the admission hot path. Redis serves multi-process
// deployments; the in-process go-cache covers single-node setups and redis
// outages. TTLs are short because credentials and balances change outside
// the core's control.
const (
	credentialCacheTTL = 2 * time.Minute
	principalCacheTTL  = 30 * time.Second
)

var memoryCache = gocache.New(principalCacheTTL, 5*time.Minute)

func credentialCacheKey(keyHash string) string {
	return common.RedisKey("cred", keyHash)
}

func principalCacheKey(id int64) string {
	return common.RedisKey("principal", strconv.FormatInt(id, 10))
}

// CacheGetCredentialByHash resolves a credential through the cache stack:
// redis, then the in-process cache, then the database. Cache misses are
// backfilled; lookup failures of a cache layer fall through silently.
func CacheGetCredentialByHash(ctx context.Context, keyHash string) (*Credential, error) {
	cacheKey := credentialCacheKey(keyHash)

	if common.RedisEnabled {
		if raw, err := common.RedisGet(ctx, cacheKey); err == nil {
			var cred Credential
			if err := json.Unmarshal([]byte(raw), &cred); err == nil {
				return &cred, nil
			}
		}
	} else if v, ok := memoryCache.Get(cacheKey); ok {
		if cred, ok := v.(*Credential); ok {
			// Hand out a copy so a caller mutating its credential cannot
			// corrupt the shared cache entry.
			clone := &Credential{}
			if err := copier.Copy(clone, cred); err == nil {
				return clone, nil
			}
		}
	}

	cred, err := FindCredentialByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}

	if common.RedisEnabled {
		if raw, err := json.Marshal(cred); err == nil {
			if err := common.RedisSet(ctx, cacheKey, string(raw), credentialCacheTTL); err != nil {
				logger.FromContext(ctx).Warn("failed to cache credential", zap.Error(err))
			}
		}
	} else {
		// Cache a detached clone so the caller's pointer never aliases
		// the cached entry.
		clone := &Credential{}
		if err := copier.Copy(clone, cred); err == nil {
			memoryCache.Set(cacheKey, clone, credentialCacheTTL)
		}
	}
	return cred, nil
}

// CacheGetPrincipal resolves a principal with a short TTL. Balance checks
// read through this cache; the authoritative conditional debit always hits
// the database, so a stale balance only affects admission, never billing.
func CacheGetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	cacheKey := principalCacheKey(id)

	if common.RedisEnabled {
		if raw, err := common.RedisGet(ctx, cacheKey); err == nil {
			var p Principal
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				return &p, nil
			}
		}
	} else if v, ok := memoryCache.Get(cacheKey); ok {
		if p, ok := v.(*Principal); ok {
			clone := &Principal{}
			if err := copier.Copy(clone, p); err == nil {
				return clone, nil
			}
		}
	}

	p, err := LoadPrincipal(ctx, id)
	if err != nil {
		return nil, err
	}

	if common.RedisEnabled {
		if raw, err := json.Marshal(p); err == nil {
			if err := common.RedisSet(ctx, cacheKey, string(raw), principalCacheTTL); err != nil {
				logger.FromContext(ctx).Warn("failed to cache principal", zap.Error(err))
			}
		}
	} else {
		clone := &Principal{}
		if err := copier.Copy(clone, p); err == nil {
			memoryCache.Set(cacheKey, clone, principalCacheTTL)
		}
	}
	return p, nil
}

// InvalidatePrincipalCache evicts a principal after billing mutated its
// balance, so the next admission check sees the new value promptly.
func InvalidatePrincipalCache(ctx context.Context, id int64) {
	cacheKey := principalCacheKey(id)
	if common.RedisEnabled {
		if err := common.RedisDel(ctx, cacheKey); err != nil {
			logger.FromContext(ctx).Warn("failed to invalidate principal cache", zap.Error(err))
		}
		return
	}
	memoryCache.Delete(cacheKey)
}

// InvalidateCredentialCache evicts a credential after external rotation.
func InvalidateCredentialCache(ctx context.Context, keyHash string) {
	cacheKey := credentialCacheKey(keyHash)
	if common.RedisEnabled {
		if err := common.RedisDel(ctx, cacheKey); err != nil {
			logger.FromContext(ctx).Warn("failed to invalidate credential cache", zap.Error(err))
		}
		return
	}
	memoryCache.Delete(cacheKey)
}

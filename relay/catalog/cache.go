package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/singleflight"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/logger"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/relay/provider"
)

// failureBackoff bounds how often a provider whose listing endpoint is down
// gets re-fetched on the blocking path. Between attempts the slot keeps
// serving whatever it has (stale data or the fallback list).
const failureBackoff = time.Minute

// slot is one provider's cache cell. The snapshot pointer is swapped
// atomically so the read path never locks.
type slot struct {
	snap        atomic.Pointer[Snapshot]
	lastFailure atomic.Int64 // unix nano of the last failed fetch
}

var (
	slotsMu sync.Mutex
	slots   = map[string]*slot{}
	group   singleflight.Group
)

func slotFor(providerId string) *slot {
	slotsMu.Lock()
	defer slotsMu.Unlock()
	s, ok := slots[providerId]
	if !ok {
		s = &slot{}
		slots[providerId] = s
	}
	return s
}

// ttlFresh resolves the freshness window for a binding, honouring the
// per-provider override.
func ttlFresh(b *provider.Binding) time.Duration {
	if b.TTLFreshMin > 0 {
		return time.Duration(b.TTLFreshMin) * time.Minute
	}
	return config.CatalogTTLFresh()
}

func ttlStale(b *provider.Binding) time.Duration {
	factor := config.CatalogTTLStaleFactor
	if factor < 1 {
		factor = 1
	}
	return ttlFresh(b) * time.Duration(factor)
}

// SnapshotFor returns the catalog snapshot to serve for a provider,
// applying the staleness rules: fresh data is returned as-is, stale data is
// returned while a background refresh runs, and data past the stale ceiling
// blocks on a collapsed refresh. When the refresh fails the freshest thing
// available is served: the stale snapshot if one exists, otherwise the
// binding's static fallback list.
func SnapshotFor(ctx context.Context, b *provider.Binding) *Snapshot {
	s := slotFor(b.Id)
	cur := s.snap.Load()
	now := time.Now()

	age := cur.Age(now)
	if age < ttlFresh(b) {
		return cur
	}
	if cur != nil && !cur.Fallback && age < ttlStale(b) {
		refreshAsync(ctx, b)
		return cur
	}

	// Past the stale ceiling (or nothing cached): block on the refresh,
	// unless the provider failed recently and we are inside the backoff.
	if since := time.Since(time.Unix(0, s.lastFailure.Load())); since < failureBackoff {
		if cur != nil {
			return cur
		}
		return serveFallback(ctx, b, s)
	}

	snap, err := refresh(ctx, b)
	if err == nil {
		return snap
	}
	logger.FromContext(ctx).Warn("catalog refresh failed",
		zap.String("provider", b.Id), zap.Error(err))
	if cur != nil {
		metrics.GlobalRecorder.RecordCatalogRefresh(b.Id, false, false, 0)
		return cur
	}
	return serveFallback(ctx, b, s)
}

func serveFallback(ctx context.Context, b *provider.Binding, s *slot) *Snapshot {
	snap := fallbackSnapshot(b)
	s.snap.Store(snap)
	metrics.GlobalRecorder.RecordCatalogRefresh(b.Id, false, true, 0)
	logger.FromContext(ctx).Warn("serving fallback catalog",
		zap.String("provider", b.Id), zap.Int("models", len(snap.Models)))
	return snap
}

// refresh fetches and installs a new snapshot, collapsed per provider so a
// thundering herd of stale readers triggers one upstream call.
func refresh(ctx context.Context, b *provider.Binding) (*Snapshot, error) {
	v, err, _ := group.Do(b.Id, func() (any, error) {
		s := slotFor(b.Id)
		start := time.Now()

		fetchCtx, cancel := context.WithTimeout(ctx,
			time.Duration(config.CatalogFetchTimeoutSec)*time.Second)
		defer cancel()

		models, err := fetchModels(fetchCtx, b)
		if err != nil {
			s.lastFailure.Store(time.Now().UnixNano())
			metrics.GlobalRecorder.RecordCatalogRefresh(b.Id, false, false, time.Since(start))
			return nil, errors.Wrapf(err, "fetch catalog for provider %q", b.Id)
		}

		snap := newSnapshot(b.Id, models, time.Now(), false)
		s.snap.Store(snap)
		s.lastFailure.Store(0)
		metrics.GlobalRecorder.RecordCatalogRefresh(b.Id, true, false, time.Since(start))
		logger.FromContext(ctx).Debug("catalog refreshed",
			zap.String("provider", b.Id), zap.Int("models", len(snap.Models)))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// refreshAsync kicks a background refresh without holding up the caller.
// The singleflight group deduplicates concurrent kicks.
func refreshAsync(ctx context.Context, b *provider.Binding) {
	lgr := logger.FromContext(ctx)
	go func() {
		if _, err := refresh(context.Background(), b); err != nil {
			lgr.Warn("background catalog refresh failed",
				zap.String("provider", b.Id), zap.Error(err))
		}
	}()
}

// Invalidate drops a provider's cached snapshot. Used when bindings reload
// with changed credentials or endpoints.
func Invalidate(providerId string) {
	slotsMu.Lock()
	defer slotsMu.Unlock()
	delete(slots, providerId)
}

// ResetAll drops every cached snapshot. Test helper and full-reload hook.
func ResetAll() {
	slotsMu.Lock()
	defer slotsMu.Unlock()
	slots = map[string]*slot{}
}

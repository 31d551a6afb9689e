package catalog

import (
	"context"
	"time"

	"github.com/Laisky/zap"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/logger"
	"github.com/modelrelay/modelrelay/relay/provider"
)

// Warmup fetches every configured provider's catalog in parallel so the
// first request after boot does not pay the fetch latency. Failures are
// logged, never fatal: the affected provider serves its fallback list until
// a later refresh succeeds.
func Warmup(ctx context.Context) {
	if !config.CatalogWarmupEnabled {
		return
	}
	lgr := logger.FromContext(ctx)
	start := time.Now()

	var g errgroup.Group
	for _, b := range provider.All() {
		b := b
		g.Go(func() error {
			if _, err := refresh(ctx, b); err != nil {
				lgr.Warn("catalog warmup failed",
					zap.String("provider", b.Id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	lgr.Info("catalog warmup finished",
		zap.Int("providers", len(provider.All())),
		zap.Duration("elapsed", time.Since(start)))
}

// RegisterCron schedules the periodic pass that re-fetches providers whose
// snapshot has crossed its freshness window, keeping steady-state requests
// on the non-blocking path.
func RegisterCron(c *cron.Cron) error {
	_, err := c.AddFunc("@every 5m", func() {
		ctx := context.Background()
		now := time.Now()
		for _, b := range provider.All() {
			snap := slotFor(b.Id).snap.Load()
			if snap != nil && snap.Age(now) < ttlFresh(b) {
				continue
			}
			if _, err := refresh(ctx, b); err != nil {
				logger.Logger.Warn("scheduled catalog refresh failed",
					zap.String("provider", b.Id), zap.Error(err))
			}
		}
	})
	return err
}

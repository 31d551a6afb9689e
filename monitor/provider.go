package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/logger"
	"github.com/modelrelay/modelrelay/common/metrics"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

// providerHealth tracks per-provider suspension windows. A suspended
// provider is deprioritized during chain construction but stays eligible
// as a last resort when every alternative is also down.
type providerHealth struct {
	mu        sync.RWMutex
	suspended map[string]suspension
}

type suspension struct {
	until time.Time
	class relaymodel.FailureClass
}

var health = &providerHealth{suspended: make(map[string]suspension)}

// suspensionWindow maps a failure class to how long the provider sits out.
// A zero window means the class never suspends: not_found is model-level,
// permanent and unknown point at the request, not the provider.
func suspensionWindow(class relaymodel.FailureClass, retryAfter time.Duration) time.Duration {
	switch class {
	case relaymodel.FailureAuth:
		return time.Duration(config.ProviderSuspendAuthSec) * time.Second
	case relaymodel.FailureRateLimited:
		window := time.Duration(config.ProviderSuspend429Sec) * time.Second
		if retryAfter > window {
			window = retryAfter
		}
		return window
	case relaymodel.FailureTransient, relaymodel.FailureTimeout:
		return time.Duration(config.ProviderSuspend5xxSec) * time.Second
	default:
		return 0
	}
}

// Emit records the outcome of one provider attempt. Failures open a
// suspension window sized by class; successes clear any open window.
func Emit(ctx context.Context, providerId string, class relaymodel.FailureClass, retryAfter time.Duration) {
	if class == relaymodel.FailureOK {
		ReportSuccess(ctx, providerId)
		return
	}

	window := suspensionWindow(class, retryAfter)
	if window <= 0 {
		return
	}
	until := time.Now().Add(window)

	health.mu.Lock()
	current, ok := health.suspended[providerId]
	// Never shorten an already-open window with a milder failure.
	if !ok || until.After(current.until) {
		health.suspended[providerId] = suspension{until: until, class: class}
	}
	health.mu.Unlock()

	logger.FromContext(ctx).Warn("provider suspended",
		zap.String("provider_id", providerId),
		zap.String("class", class.String()),
		zap.Duration("window", window))
	metrics.GlobalRecorder.UpdateProviderSuspended(providerId, true)
}

// ReportSuccess clears any suspension window for the provider.
func ReportSuccess(ctx context.Context, providerId string) {
	health.mu.Lock()
	_, wasSuspended := health.suspended[providerId]
	delete(health.suspended, providerId)
	health.mu.Unlock()

	if wasSuspended {
		logger.FromContext(ctx).Info("provider resumed",
			zap.String("provider_id", providerId))
		metrics.GlobalRecorder.UpdateProviderSuspended(providerId, false)
	}
}

// IsSuspended reports whether the provider currently sits in a suspension
// window. Expired windows are pruned lazily on read.
func IsSuspended(providerId string) bool {
	health.mu.RLock()
	entry, ok := health.suspended[providerId]
	health.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(entry.until) {
		health.mu.Lock()
		// Re-check under the write lock: a concurrent Emit may have renewed it.
		if current, stillThere := health.suspended[providerId]; stillThere && time.Now().After(current.until) {
			delete(health.suspended, providerId)
			metrics.GlobalRecorder.UpdateProviderSuspended(providerId, false)
		}
		health.mu.Unlock()
		return false
	}
	return true
}

// SuspendedUntil returns the end of the provider's suspension window.
func SuspendedUntil(providerId string) (time.Time, bool) {
	health.mu.RLock()
	defer health.mu.RUnlock()
	entry, ok := health.suspended[providerId]
	if !ok || time.Now().After(entry.until) {
		return time.Time{}, false
	}
	return entry.until, true
}

// ResetProviderHealth drops all suspension state. Only used by tests and
// configuration reloads.
func ResetProviderHealth() {
	health.mu.Lock()
	health.suspended = make(map[string]suspension)
	health.mu.Unlock()
}

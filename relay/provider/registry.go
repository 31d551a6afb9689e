package provider

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/logger"
)

// registry holds the active bindings behind an atomic pointer so a config
// reload swaps the whole set without locking the request path.
type registrySnapshot struct {
	byId     map[string]*Binding
	order    []string
	failover map[string][]string
}

var registry atomic.Pointer[registrySnapshot]

func init() {
	registry.Store(&registrySnapshot{
		byId:     map[string]*Binding{},
		failover: map[string][]string{},
	})
}

// InstallConfig swaps the active bindings wholesale. Disabled bindings are
// kept out of the snapshot entirely.
func InstallConfig(ctx context.Context, cfg *Config) {
	snap := &registrySnapshot{
		byId:     make(map[string]*Binding, len(cfg.Providers)),
		order:    make([]string, 0, len(cfg.Providers)),
		failover: make(map[string][]string, len(cfg.Failover)),
	}
	for i := range cfg.Providers {
		b := cfg.Providers[i]
		if b.Disabled {
			continue
		}
		snap.byId[b.Id] = &b
		snap.order = append(snap.order, b.Id)
		logger.FromContext(ctx).Debug("provider binding",
			zap.String("id", b.Id),
			zap.String("family", b.Family),
			zap.String("api_key", common.MaskSecret(b.APIKey)))
	}
	for prefix, chain := range cfg.Failover {
		snap.failover[prefix] = append([]string(nil), chain...)
	}
	registry.Store(snap)

	logger.FromContext(ctx).Info("provider bindings installed",
		zap.Int("providers", len(snap.order)),
		zap.Int("failover_chains", len(snap.failover)))
}

// LoadAndInstall reads the bindings file and installs it on success. The
// previous snapshot stays active when loading fails, so a bad edit never
// takes the gateway down.
func LoadAndInstall(ctx context.Context, path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return errors.Wrap(err, "load provider bindings")
	}
	InstallConfig(ctx, cfg)
	return nil
}

// Get returns the binding for a provider id.
func Get(id string) (*Binding, bool) {
	snap := registry.Load()
	b, ok := snap.byId[id]
	return b, ok
}

// All returns the enabled bindings in file order.
func All() []*Binding {
	snap := registry.Load()
	out := make([]*Binding, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.byId[id])
	}
	return out
}

// Ids returns the enabled provider ids in file order.
func Ids() []string {
	snap := registry.Load()
	return append([]string(nil), snap.order...)
}

// NeighboursFor returns the configured failover chain for a model id,
// matching the longest failover prefix. No match returns nil.
func NeighboursFor(modelId string) []string {
	snap := registry.Load()
	var bestPrefix string
	for prefix := range snap.failover {
		if strings.HasPrefix(modelId, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix == "" {
		return nil
	}
	return append([]string(nil), snap.failover[bestPrefix]...)
}

// FailoverPrefixes returns the configured failover prefixes, sorted.
// Used by status reporting.
func FailoverPrefixes() []string {
	snap := registry.Load()
	out := make([]string, 0, len(snap.failover))
	for prefix := range snap.failover {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

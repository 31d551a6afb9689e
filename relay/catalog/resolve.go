package catalog

import (
	"context"

	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/pricing"
	"github.com/modelrelay/modelrelay/relay/provider"
)

// ListModels returns the catalog projection across providers, in registry
// declaration order and then model id order. Private providers are hidden
// unless the filter names them or asks for private models explicitly.
func ListModels(ctx context.Context, f Filter) []*ModelDescriptor {
	var bindings []*provider.Binding
	if f.Provider != "" {
		b, ok := provider.Get(f.Provider)
		if !ok {
			return nil
		}
		bindings = []*provider.Binding{b}
	} else {
		bindings = provider.All()
	}

	includePrivate := f.Provider != "" || (f.Private != nil && *f.Private)

	var out []*ModelDescriptor
	for _, b := range bindings {
		if b.Private && !includePrivate {
			continue
		}
		snap := SnapshotFor(ctx, b)
		for _, m := range snap.Models {
			if f.Matches(m) {
				out = append(out, m)
			}
		}
	}
	return out
}

// GetModel finds one descriptor. With an empty providerId the model id may
// carry a "provider/" routing prefix; otherwise the caches are scanned in
// registry declaration order.
func GetModel(ctx context.Context, modelId, providerId string) (*ModelDescriptor, bool) {
	if providerId == "" {
		if prefix := meta.ProviderPrefix(modelId); prefix != "" {
			providerId = prefix
			modelId = meta.StripProviderPrefix(modelId)
		}
	}
	if providerId != "" {
		b, ok := provider.Get(providerId)
		if !ok {
			return nil, false
		}
		return SnapshotFor(ctx, b).Lookup(modelId)
	}
	for _, b := range provider.All() {
		if m, ok := SnapshotFor(ctx, b).Lookup(modelId); ok {
			return m, true
		}
	}
	return nil, false
}

// ResolveProvider maps a model id to the provider that serves it. An
// explicit "provider/" prefix wins; otherwise the first provider in
// declaration order whose catalog lists the model is chosen.
func ResolveProvider(ctx context.Context, modelId string) (string, bool) {
	if prefix := meta.ProviderPrefix(modelId); prefix != "" {
		return prefix, true
	}
	for _, b := range provider.All() {
		if _, ok := SnapshotFor(ctx, b).Lookup(modelId); ok {
			return b.Id, true
		}
	}
	return "", false
}

// Price freezes the billing prices for a model on a provider. Pricing never
// fails: an unknown or unpriced model yields a zero-price snapshot and the
// request bills as free.
func Price(ctx context.Context, modelId, providerId string) *pricing.Snapshot {
	slug := meta.StripProviderPrefix(modelId)
	if m, ok := GetModel(ctx, slug, providerId); ok {
		return pricing.NewSnapshot(slug, providerId,
			m.InputUSDPerMTok, m.OutputUSDPerMTok, m.CachedInputUSDPerMTok, m.PerImageUSD)
	}
	if b, ok := provider.Get(providerId); ok {
		if cfg, found := lookupPricing(b.ApiType(), slug); found {
			return pricing.NewSnapshot(slug, providerId,
				cfg.InputUSDPerMTok, cfg.OutputUSDPerMTok, cfg.CachedInputUSDPerMTok, cfg.PerImageUSD)
		}
	}
	return pricing.NewSnapshot(slug, providerId, 0, 0, 0, 0)
}

package adaptor

import (
	"sort"
	"strings"
)

// ModelConfig carries the static per-model knowledge a family adaptor ships:
// list prices in USD per million tokens plus capability metadata. Catalog
// normalization merges these values into descriptors when the provider's
// model listing does not carry its own pricing.
type ModelConfig struct {
	// InputUSDPerMTok is the price of one million fresh prompt tokens.
	InputUSDPerMTok float64
	// OutputUSDPerMTok is the price of one million completion tokens.
	OutputUSDPerMTok float64
	// CachedInputUSDPerMTok is the price of one million cache-read prompt
	// tokens. Zero means the input rate applies.
	CachedInputUSDPerMTok float64
	// PerImageUSD is the price of one generated image, for image models.
	PerImageUSD float64

	ContextWindow   int
	MaxOutputTokens int
	Vision          bool
	Tools           bool
}

// GetModelListFromPricing derives the supported model list from a price
// table. The result is sorted so fallback catalogs stay stable across
// restarts.
func GetModelListFromPricing(pricing map[string]ModelConfig) []string {
	models := make([]string, 0, len(pricing))
	for model := range pricing {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// LookupModelPricing finds the table entry for a model id, trying the exact
// id first and then the longest table key that prefixes it. The prefix pass
// lets dated releases ("gpt-4o-2024-08-06") inherit the base model's row.
func LookupModelPricing(pricing map[string]ModelConfig, modelName string) (ModelConfig, bool) {
	if cfg, ok := pricing[modelName]; ok {
		return cfg, true
	}
	var (
		best    string
		bestCfg ModelConfig
		found   bool
	)
	for key, cfg := range pricing {
		if strings.HasPrefix(modelName, key) && len(key) > len(best) {
			best = key
			bestCfg = cfg
			found = true
		}
	}
	return bestCfg, found
}

// DefaultPricingMethods supplies the pricing surface for adaptors that ship
// no table of their own. Embed it and override GetDefaultModelPricing when a
// family has list prices.
type DefaultPricingMethods struct{}

func (d DefaultPricingMethods) GetDefaultModelPricing() map[string]ModelConfig {
	return nil
}

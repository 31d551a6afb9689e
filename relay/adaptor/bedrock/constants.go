package bedrock

import "github.com/modelrelay/modelrelay/relay/adaptor"

// ModelRatios is the static price table for Bedrock models, in USD per
// million tokens. Bedrock exposes no listing endpoint for on-demand model
// access, so this table also backs the catalog listing for the family.
// List prices: https://aws.amazon.com/bedrock/pricing/
var ModelRatios = map[string]adaptor.ModelConfig{
	"anthropic.claude-opus-4-1-20250805-v1:0": {
		InputUSDPerMTok:       15,
		OutputUSDPerMTok:      75,
		CachedInputUSDPerMTok: 1.5,
		ContextWindow:         200000,
		MaxOutputTokens:       32000,
		Vision:                true,
		Tools:                 true,
	},
	"anthropic.claude-sonnet-4-20250514-v1:0": {
		InputUSDPerMTok:       3,
		OutputUSDPerMTok:      15,
		CachedInputUSDPerMTok: 0.3,
		ContextWindow:         200000,
		MaxOutputTokens:       64000,
		Vision:                true,
		Tools:                 true,
	},
	"anthropic.claude-3-7-sonnet-20250219-v1:0": {
		InputUSDPerMTok:       3,
		OutputUSDPerMTok:      15,
		CachedInputUSDPerMTok: 0.3,
		ContextWindow:         200000,
		MaxOutputTokens:       64000,
		Vision:                true,
		Tools:                 true,
	},
	"anthropic.claude-3-5-haiku-20241022-v1:0": {
		InputUSDPerMTok:       0.8,
		OutputUSDPerMTok:      4,
		CachedInputUSDPerMTok: 0.08,
		ContextWindow:         200000,
		MaxOutputTokens:       8192,
		Vision:                true,
		Tools:                 true,
	},
	"amazon.nova-pro-v1:0": {
		InputUSDPerMTok:  0.8,
		OutputUSDPerMTok: 3.2,
		ContextWindow:    300000,
		MaxOutputTokens:  5120,
		Vision:           true,
		Tools:            true,
	},
	"amazon.nova-lite-v1:0": {
		InputUSDPerMTok:  0.06,
		OutputUSDPerMTok: 0.24,
		ContextWindow:    300000,
		MaxOutputTokens:  5120,
		Vision:           true,
		Tools:            true,
	},
	"meta.llama3-3-70b-instruct-v1:0": {
		InputUSDPerMTok:  0.72,
		OutputUSDPerMTok: 0.72,
		ContextWindow:    128000,
		MaxOutputTokens:  8192,
		Tools:            true,
	},
	"mistral.mistral-large-2407-v1:0": {
		InputUSDPerMTok:  2,
		OutputUSDPerMTok: 6,
		ContextWindow:    128000,
		MaxOutputTokens:  8192,
		Tools:            true,
	},
}

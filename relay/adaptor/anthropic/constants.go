package anthropic

import "github.com/modelrelay/modelrelay/relay/adaptor"

// ModelRatios is the static price table for Anthropic models, in USD per
// million tokens. List prices: https://docs.anthropic.com/en/docs/about-claude/pricing
//
// Dated release ids ("claude-sonnet-4-20250514") inherit the base row via
// prefix lookup during catalog normalization.
var ModelRatios = map[string]adaptor.ModelConfig{
	"claude-opus-4-1": {
		InputUSDPerMTok:       15,
		OutputUSDPerMTok:      75,
		CachedInputUSDPerMTok: 1.5,
		ContextWindow:         200000,
		MaxOutputTokens:       32000,
		Vision:                true,
		Tools:                 true,
	},
	"claude-opus-4": {
		InputUSDPerMTok:       15,
		OutputUSDPerMTok:      75,
		CachedInputUSDPerMTok: 1.5,
		ContextWindow:         200000,
		MaxOutputTokens:       32000,
		Vision:                true,
		Tools:                 true,
	},
	"claude-sonnet-4": {
		InputUSDPerMTok:       3,
		OutputUSDPerMTok:      15,
		CachedInputUSDPerMTok: 0.3,
		ContextWindow:         200000,
		MaxOutputTokens:       64000,
		Vision:                true,
		Tools:                 true,
	},
	"claude-3-7-sonnet": {
		InputUSDPerMTok:       3,
		OutputUSDPerMTok:      15,
		CachedInputUSDPerMTok: 0.3,
		ContextWindow:         200000,
		MaxOutputTokens:       64000,
		Vision:                true,
		Tools:                 true,
	},
	"claude-3-5-haiku": {
		InputUSDPerMTok:       0.8,
		OutputUSDPerMTok:      4,
		CachedInputUSDPerMTok: 0.08,
		ContextWindow:         200000,
		MaxOutputTokens:       8192,
		Vision:                true,
		Tools:                 true,
	},
	"claude-3-haiku": {
		InputUSDPerMTok:       0.25,
		OutputUSDPerMTok:      1.25,
		CachedInputUSDPerMTok: 0.03,
		ContextWindow:         200000,
		MaxOutputTokens:       4096,
		Vision:                true,
		Tools:                 true,
	},
}

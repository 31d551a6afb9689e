package openai

import "github.com/modelrelay/modelrelay/relay/adaptor"

// ModelRatios is the static price table for first-party OpenAI models, in
// USD per million tokens. List prices: https://platform.openai.com/docs/pricing
//
// Catalog normalization falls back to these rows when the upstream model
// listing carries no pricing of its own, so dated snapshot ids inherit the
// base row via prefix lookup.
var ModelRatios = map[string]adaptor.ModelConfig{
	"gpt-5": {
		InputUSDPerMTok:       1.25,
		OutputUSDPerMTok:      10,
		CachedInputUSDPerMTok: 0.125,
		ContextWindow:         400000,
		MaxOutputTokens:       128000,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-5-mini": {
		InputUSDPerMTok:       0.25,
		OutputUSDPerMTok:      2,
		CachedInputUSDPerMTok: 0.025,
		ContextWindow:         400000,
		MaxOutputTokens:       128000,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-5-nano": {
		InputUSDPerMTok:       0.05,
		OutputUSDPerMTok:      0.4,
		CachedInputUSDPerMTok: 0.005,
		ContextWindow:         400000,
		MaxOutputTokens:       128000,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-4.1": {
		InputUSDPerMTok:       2,
		OutputUSDPerMTok:      8,
		CachedInputUSDPerMTok: 0.5,
		ContextWindow:         1047576,
		MaxOutputTokens:       32768,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-4.1-mini": {
		InputUSDPerMTok:       0.4,
		OutputUSDPerMTok:      1.6,
		CachedInputUSDPerMTok: 0.1,
		ContextWindow:         1047576,
		MaxOutputTokens:       32768,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-4.1-nano": {
		InputUSDPerMTok:       0.1,
		OutputUSDPerMTok:      0.4,
		CachedInputUSDPerMTok: 0.025,
		ContextWindow:         1047576,
		MaxOutputTokens:       32768,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-4o": {
		InputUSDPerMTok:       2.5,
		OutputUSDPerMTok:      10,
		CachedInputUSDPerMTok: 1.25,
		ContextWindow:         128000,
		MaxOutputTokens:       16384,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-4o-mini": {
		InputUSDPerMTok:       0.15,
		OutputUSDPerMTok:      0.6,
		CachedInputUSDPerMTok: 0.075,
		ContextWindow:         128000,
		MaxOutputTokens:       16384,
		Vision:                true,
		Tools:                 true,
	},
	"chatgpt-4o-latest": {
		InputUSDPerMTok:  5,
		OutputUSDPerMTok: 15,
		ContextWindow:    128000,
		MaxOutputTokens:  16384,
		Vision:           true,
	},
	"o3": {
		InputUSDPerMTok:       2,
		OutputUSDPerMTok:      8,
		CachedInputUSDPerMTok: 0.5,
		ContextWindow:         200000,
		MaxOutputTokens:       100000,
		Vision:                true,
		Tools:                 true,
	},
	"o3-mini": {
		InputUSDPerMTok:       1.1,
		OutputUSDPerMTok:      4.4,
		CachedInputUSDPerMTok: 0.55,
		ContextWindow:         200000,
		MaxOutputTokens:       100000,
		Tools:                 true,
	},
	"o4-mini": {
		InputUSDPerMTok:       1.1,
		OutputUSDPerMTok:      4.4,
		CachedInputUSDPerMTok: 0.275,
		ContextWindow:         200000,
		MaxOutputTokens:       100000,
		Vision:                true,
		Tools:                 true,
	},
	"gpt-4-turbo": {
		InputUSDPerMTok:  10,
		OutputUSDPerMTok: 30,
		ContextWindow:    128000,
		MaxOutputTokens:  4096,
		Vision:           true,
		Tools:            true,
	},
	"gpt-3.5-turbo": {
		InputUSDPerMTok:  0.5,
		OutputUSDPerMTok: 1.5,
		ContextWindow:    16385,
		MaxOutputTokens:  4096,
		Tools:            true,
	},
	"gpt-image-1": {
		InputUSDPerMTok:  5,
		OutputUSDPerMTok: 40,
		PerImageUSD:      0.042,
	},
	"dall-e-3": {
		PerImageUSD: 0.04,
	},
	"dall-e-2": {
		PerImageUSD: 0.02,
	},
}

// reasoningModelPrefixes marks model families that reject sampling knobs such
// as temperature and which take max_completion_tokens instead of max_tokens.
var reasoningModelPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

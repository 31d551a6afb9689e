package gemini

import "github.com/modelrelay/modelrelay/relay/adaptor"

// ModelRatios is the static price table for Gemini models, in USD per
// million tokens. List prices: https://ai.google.dev/pricing
var ModelRatios = map[string]adaptor.ModelConfig{
	"gemini-2.5-pro": {
		InputUSDPerMTok:       1.25,
		OutputUSDPerMTok:      10,
		CachedInputUSDPerMTok: 0.31,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Vision:                true,
		Tools:                 true,
	},
	"gemini-2.5-flash": {
		InputUSDPerMTok:       0.3,
		OutputUSDPerMTok:      2.5,
		CachedInputUSDPerMTok: 0.075,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Vision:                true,
		Tools:                 true,
	},
	"gemini-2.5-flash-lite": {
		InputUSDPerMTok:       0.1,
		OutputUSDPerMTok:      0.4,
		CachedInputUSDPerMTok: 0.025,
		ContextWindow:         1048576,
		MaxOutputTokens:       65536,
		Vision:                true,
		Tools:                 true,
	},
	"gemini-2.0-flash": {
		InputUSDPerMTok:       0.1,
		OutputUSDPerMTok:      0.4,
		CachedInputUSDPerMTok: 0.025,
		ContextWindow:         1048576,
		MaxOutputTokens:       8192,
		Vision:                true,
		Tools:                 true,
	},
	"gemini-2.0-flash-lite": {
		InputUSDPerMTok:  0.075,
		OutputUSDPerMTok: 0.3,
		ContextWindow:    1048576,
		MaxOutputTokens:  8192,
		Vision:           true,
		Tools:            true,
	},
}

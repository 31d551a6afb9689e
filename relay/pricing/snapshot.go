package pricing

import (
	"time"

	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

// Snapshot freezes the prices a request will be billed at. Taken during
// admission so a catalog refresh mid-flight never changes what an
// in-flight request pays.
type Snapshot struct {
	ModelId    string
	ProviderId string

	// USD per 1M tokens.
	InputUSDPerMTok       float64
	OutputUSDPerMTok      float64
	CachedInputUSDPerMTok float64

	// USD per generated image, for image endpoints.
	PerImageUSD float64

	TakenAt time.Time
}

// NewSnapshot freezes a price pair. A zero cached-input price falls back
// to the full input price.
func NewSnapshot(modelId, providerId string, inputUSD, outputUSD, cachedInputUSD, perImageUSD float64) *Snapshot {
	if cachedInputUSD <= 0 {
		cachedInputUSD = inputUSD
	}
	return &Snapshot{
		ModelId:               modelId,
		ProviderId:            providerId,
		InputUSDPerMTok:       inputUSD,
		OutputUSDPerMTok:      outputUSD,
		CachedInputUSDPerMTok: cachedInputUSD,
		PerImageUSD:           perImageUSD,
		TakenAt:               time.Now(),
	}
}

const tokensPerMillion = 1_000_000

// Cost prices a usage block against the snapshot. Cached prompt tokens are
// billed at the cached rate; reasoning tokens are already folded into
// completion_tokens by the upstreams that report them.
func (s *Snapshot) Cost(usage *relaymodel.Usage) float64 {
	if s == nil || usage == nil {
		return 0
	}
	cached := usage.CachedPromptTokens()
	fresh := usage.PromptTokens - cached
	if fresh < 0 {
		fresh = 0
		cached = usage.PromptTokens
	}
	cost := float64(fresh)*s.InputUSDPerMTok/tokensPerMillion +
		float64(cached)*s.CachedInputUSDPerMTok/tokensPerMillion +
		float64(usage.CompletionTokens)*s.OutputUSDPerMTok/tokensPerMillion
	return cost
}

// ImageCost prices an image generation batch.
func (s *Snapshot) ImageCost(n int) float64 {
	if s == nil || n <= 0 {
		return 0
	}
	return float64(n) * s.PerImageUSD
}

// IsFree reports whether the snapshot carries no prices at all, which is
// how unpriced catalog entries bill: zero, never an error.
func (s *Snapshot) IsFree() bool {
	return s == nil || (s.InputUSDPerMTok == 0 && s.OutputUSDPerMTok == 0 && s.PerImageUSD == 0)
}

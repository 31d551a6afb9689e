package catalog

import (
	"sort"
	"time"
)

// ModelDescriptor is the normalized catalog entry for one model on one
// provider. Prices are USD per million tokens; zero means unpriced and the
// model bills as free rather than erroring.
type ModelDescriptor struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	ProviderId  string `json:"provider_id"`

	// SourceGateway tags models listed by a gateway-style upstream with the
	// vendor the gateway proxies them from (the listing's owned_by).
	SourceGateway string `json:"source_gateway,omitempty"`

	ContextWindow   int `json:"context_window"`
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	InputUSDPerMTok       float64 `json:"input_usd_per_mtok"`
	OutputUSDPerMTok      float64 `json:"output_usd_per_mtok"`
	CachedInputUSDPerMTok float64 `json:"cached_input_usd_per_mtok,omitempty"`
	PerImageUSD           float64 `json:"per_image_usd,omitempty"`

	Vision bool `json:"vision,omitempty"`
	Tools  bool `json:"tools,omitempty"`

	// Private mirrors the binding flag: private providers are hidden from
	// model listings unless the caller asks for them explicitly.
	Private bool `json:"private,omitempty"`
}

// Snapshot is one provider's immutable catalog state. A refresh builds a new
// snapshot and swaps the slot pointer; readers never see a partial list.
type Snapshot struct {
	ProviderId string
	Models     []*ModelDescriptor

	// FetchedAt is the completion time of the successful fetch this snapshot
	// came from. Zero for fallback snapshots so the next reader retries.
	FetchedAt time.Time

	// Fallback marks a snapshot built from the static fallback list after a
	// failed fetch with nothing cached.
	Fallback bool

	byId map[string]*ModelDescriptor
}

func newSnapshot(providerId string, models []*ModelDescriptor, fetchedAt time.Time, fallback bool) *Snapshot {
	sort.Slice(models, func(i, j int) bool { return models[i].Id < models[j].Id })
	byId := make(map[string]*ModelDescriptor, len(models))
	for _, m := range models {
		byId[m.Id] = m
	}
	return &Snapshot{
		ProviderId: providerId,
		Models:     models,
		FetchedAt:  fetchedAt,
		Fallback:   fallback,
		byId:       byId,
	}
}

// Lookup finds a descriptor by model id.
func (s *Snapshot) Lookup(modelId string) (*ModelDescriptor, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.byId[modelId]
	return m, ok
}

// Age reports how old the snapshot's data is. Fallback snapshots report a
// very large age so they never count as fresh.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.FetchedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(s.FetchedAt)
}

// Filter narrows a model listing. Zero values mean "no constraint"; Private
// is tri-state so callers can ask for only-private or only-public.
type Filter struct {
	Provider   string
	MinContext int
	// MaxPriceUSDPerMTok bounds the input price. Unpriced (zero) models
	// always pass.
	MaxPriceUSDPerMTok float64
	Private            *bool
}

// Matches reports whether a descriptor passes the filter. The provider
// constraint is applied by the caller when selecting slots.
func (f Filter) Matches(m *ModelDescriptor) bool {
	if f.MinContext > 0 && m.ContextWindow < f.MinContext {
		return false
	}
	if f.MaxPriceUSDPerMTok > 0 && m.InputUSDPerMTok > f.MaxPriceUSDPerMTok {
		return false
	}
	if f.Private != nil && m.Private != *f.Private {
		return false
	}
	return true
}

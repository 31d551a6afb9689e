package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/relay"
	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/apitype"
	"github.com/modelrelay/modelrelay/relay/provider"
)

const anthropicVersion = "2023-06-01"

// defaultContextWindow supplies the per-family context window used when the
// listing carries none and the pricing table has no entry either.
func defaultContextWindow(apiType int) int {
	switch apiType {
	case apitype.Anthropic, apitype.AwsBedrock:
		return 200_000
	case apitype.Gemini:
		return 1_048_576
	default:
		return 128_000
	}
}

// fetchModels lists a provider's models over its native wire protocol and
// normalizes the result into descriptors.
func fetchModels(ctx context.Context, b *provider.Binding) ([]*ModelDescriptor, error) {
	switch b.ApiType() {
	case apitype.Anthropic:
		return fetchAnthropicModels(ctx, b)
	case apitype.Gemini:
		return fetchGeminiModels(ctx, b)
	case apitype.AwsBedrock:
		// Bedrock has no list endpoint wired; the static table is the catalog.
		return staticModels(b), nil
	default:
		return fetchOpenAIModels(ctx, b)
	}
}

func fetchOpenAIModels(ctx context.Context, b *provider.Binding) ([]*ModelDescriptor, error) {
	var listing struct {
		Data []struct {
			Id      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	err := getJSON(ctx, strings.TrimSuffix(b.BaseURL, "/")+"/v1/models", map[string]string{
		"Authorization": "Bearer " + b.APIKey,
	}, &listing)
	if err != nil {
		return nil, err
	}

	models := make([]*ModelDescriptor, 0, len(listing.Data))
	for _, entry := range listing.Data {
		if entry.Id == "" {
			continue
		}
		source := ""
		if b.ApiType() == apitype.OpenAICompatible {
			source = gatewaySource(entry.OwnedBy)
		}
		models = append(models, describe(b, entry.Id, "", source, 0, 0))
	}
	return models, nil
}

// gatewaySource maps a gateway listing's owned_by to a source tag, dropping
// the values plain OpenAI-style servers report for their own models.
func gatewaySource(ownedBy string) string {
	switch strings.ToLower(ownedBy) {
	case "", "openai", "system", "library", "organization", "organization-owner":
		return ""
	}
	return ownedBy
}

func fetchAnthropicModels(ctx context.Context, b *provider.Binding) ([]*ModelDescriptor, error) {
	var listing struct {
		Data []struct {
			Id          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	err := getJSON(ctx, strings.TrimSuffix(b.BaseURL, "/")+"/v1/models?limit=1000", map[string]string{
		"x-api-key":         b.APIKey,
		"anthropic-version": anthropicVersion,
	}, &listing)
	if err != nil {
		return nil, err
	}

	models := make([]*ModelDescriptor, 0, len(listing.Data))
	for _, entry := range listing.Data {
		if entry.Id == "" {
			continue
		}
		models = append(models, describe(b, entry.Id, entry.DisplayName, "", 0, 0))
	}
	return models, nil
}

func fetchGeminiModels(ctx context.Context, b *provider.Binding) ([]*ModelDescriptor, error) {
	var listing struct {
		Models []struct {
			Name                       string   `json:"name"`
			DisplayName                string   `json:"displayName"`
			InputTokenLimit            int      `json:"inputTokenLimit"`
			OutputTokenLimit           int      `json:"outputTokenLimit"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	listURL := strings.TrimSuffix(b.BaseURL, "/") + "/v1beta/models?pageSize=1000&key=" + url.QueryEscape(b.APIKey)
	if err := getJSON(ctx, listURL, nil, &listing); err != nil {
		return nil, err
	}

	models := make([]*ModelDescriptor, 0, len(listing.Models))
	for _, entry := range listing.Models {
		if !supportsGenerateContent(entry.SupportedGenerationMethods) {
			continue
		}
		id := strings.TrimPrefix(entry.Name, "models/")
		if id == "" {
			continue
		}
		models = append(models, describe(b, id, entry.DisplayName, "",
			entry.InputTokenLimit, entry.OutputTokenLimit))
	}
	return models, nil
}

func supportsGenerateContent(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

// staticModels builds descriptors straight from the family's pricing table.
func staticModels(b *provider.Binding) []*ModelDescriptor {
	var table map[string]adaptor.ModelConfig
	if a := relay.GetAdaptor(b.ApiType()); a != nil {
		table = a.GetDefaultModelPricing()
	}
	ids := adaptor.GetModelListFromPricing(table)
	models := make([]*ModelDescriptor, 0, len(ids))
	for _, id := range ids {
		models = append(models, describe(b, id, "", "", 0, 0))
	}
	return models
}

// fallbackSnapshot is served when a fetch fails with nothing cached. It
// prefers the binding's configured fallback list and falls back to the
// family's static table.
func fallbackSnapshot(b *provider.Binding) *Snapshot {
	var models []*ModelDescriptor
	if len(b.FallbackModels) > 0 {
		models = make([]*ModelDescriptor, 0, len(b.FallbackModels))
		for _, id := range b.FallbackModels {
			models = append(models, describe(b, id, "", "", 0, 0))
		}
	} else {
		models = staticModels(b)
	}
	return newSnapshot(b.Id, models, time.Time{}, true)
}

// describe normalizes one listed model, merging the family pricing table
// for prices and capability flags the listing does not carry.
func describe(b *provider.Binding, id, displayName, source string, contextWindow, maxOutput int) *ModelDescriptor {
	d := &ModelDescriptor{
		Id:              id,
		DisplayName:     displayName,
		ProviderId:      b.Id,
		SourceGateway:   source,
		ContextWindow:   contextWindow,
		MaxOutputTokens: maxOutput,
		Private:         b.Private,
	}
	if cfg, ok := lookupPricing(b.ApiType(), id); ok {
		d.InputUSDPerMTok = cfg.InputUSDPerMTok
		d.OutputUSDPerMTok = cfg.OutputUSDPerMTok
		d.CachedInputUSDPerMTok = cfg.CachedInputUSDPerMTok
		d.PerImageUSD = cfg.PerImageUSD
		d.Vision = cfg.Vision
		d.Tools = cfg.Tools
		if d.ContextWindow == 0 {
			d.ContextWindow = cfg.ContextWindow
		}
		if d.MaxOutputTokens == 0 {
			d.MaxOutputTokens = cfg.MaxOutputTokens
		}
	}
	if d.ContextWindow == 0 {
		d.ContextWindow = defaultContextWindow(b.ApiType())
	}
	return d
}

// lookupPricing resolves a model against the family's static table. Gateway
// providers proxy other vendors' models, so their lookup also consults the
// vendor tables.
func lookupPricing(apiType int, modelId string) (adaptor.ModelConfig, bool) {
	families := []int{apiType}
	if apiType == apitype.OpenAICompatible {
		families = []int{apitype.OpenAI, apitype.Anthropic, apitype.Gemini}
	}
	for _, family := range families {
		a := relay.GetAdaptor(family)
		if a == nil {
			continue
		}
		if cfg, ok := adaptor.LookupModelPricing(a.GetDefaultModelPricing(), modelId); ok {
			return cfg, true
		}
	}
	return adaptor.ModelConfig{}, false
}

func getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "build model listing request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request model listing")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("model listing returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode model listing")
	}
	return nil
}

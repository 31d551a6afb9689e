package openai

import "github.com/modelrelay/modelrelay/relay/model"

type TextResponseChoice struct {
	Index         int `json:"index"`
	model.Message `json:"message"`
	FinishReason  string `json:"finish_reason"`
}

type TextResponse struct {
	Id           string               `json:"id"`
	Model        string               `json:"model,omitempty"`
	Object       string               `json:"object"`
	Created      int64                `json:"created"`
	Choices      []TextResponseChoice `json:"choices"`
	model.Usage  `json:"usage"`
	GatewayUsage *model.GatewayUsage `json:"gateway_usage,omitempty"`
}

// SlimTextResponse is the decode target for buffered upstream replies: just
// the fields billing and error propagation need.
type SlimTextResponse struct {
	Choices     []TextResponseChoice `json:"choices"`
	model.Usage `json:"usage"`
	Error       model.Error `json:"error"`
}

type ChatCompletionsStreamResponseChoice struct {
	Index        int           `json:"index"`
	Delta        model.Message `json:"delta"`
	FinishReason *string       `json:"finish_reason,omitempty"`
}

type ChatCompletionsStreamResponse struct {
	Id      string                                `json:"id"`
	Object  string                                `json:"object"`
	Created int64                                 `json:"created"`
	Model   string                                `json:"model"`
	Choices []ChatCompletionsStreamResponseChoice `json:"choices"`
	Usage   *model.Usage                          `json:"usage,omitempty"`
}

// ModelsListResponse is the wire shape of GET /v1/models.
type ModelsListResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo is one row of the model listing, extended with the gateway's
// catalog metadata.
type ModelInfo struct {
	Id      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`

	Provider        string   `json:"provider,omitempty"`
	ContextWindow   int      `json:"context_window,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Modalities      []string `json:"modalities,omitempty"`
	Pricing         *Pricing `json:"pricing,omitempty"`
	IsPrivate       bool     `json:"is_private,omitempty"`
}

// Pricing is the per-model price block echoed on catalog listings, in USD
// per million tokens.
type Pricing struct {
	InputUSDPerMTok       float64 `json:"input_usd_per_mtok"`
	OutputUSDPerMTok      float64 `json:"output_usd_per_mtok"`
	CachedInputUSDPerMTok float64 `json:"cached_input_usd_per_mtok,omitempty"`
	PerImageUSD           float64 `json:"per_image_usd,omitempty"`
}

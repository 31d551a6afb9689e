package openai

import "github.com/modelrelay/modelrelay/relay/model"

// Response API wire types, https://platform.openai.com/docs/api-reference/responses
// Only the fields the gateway routes, converts, or bills on are modelled;
// native passthrough keeps unknown fields by rewriting the raw payload.

type ResponseAPIRequest struct {
	Model              string              `json:"model"`
	Input              any                 `json:"input,omitempty"`
	Instructions       *string             `json:"instructions,omitempty"`
	MaxOutputTokens    *int                `json:"max_output_tokens,omitempty"`
	Metadata           map[string]any      `json:"metadata,omitempty"`
	ParallelToolCalls  *bool               `json:"parallel_tool_calls,omitempty"`
	PreviousResponseId *string             `json:"previous_response_id,omitempty"`
	Reasoning          *ResponseReasoning  `json:"reasoning,omitempty"`
	Store              *bool               `json:"store,omitempty"`
	Stream             *bool               `json:"stream,omitempty"`
	Temperature        *float64            `json:"temperature,omitempty"`
	Text               *ResponseTextConfig `json:"text,omitempty"`
	ToolChoice         any                 `json:"tool_choice,omitempty"`
	Tools              []ResponseAPITool   `json:"tools,omitempty"`
	TopP               *float64            `json:"top_p,omitempty"`
	User               *string             `json:"user,omitempty"`

	// Gateway extensions, stripped before the request leaves the gateway.
	Provider  string `json:"provider,omitempty"`
	SessionId string `json:"session_id,omitempty"`
}

// IsStreaming reports whether the caller asked for an SSE response.
func (r *ResponseAPIRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// StripGatewayFields clears routing-only fields before upstream dispatch.
func (r *ResponseAPIRequest) StripGatewayFields() {
	r.Provider = ""
	r.SessionId = ""
}

type ResponseReasoning struct {
	Effort  *string `json:"effort,omitempty"`
	Summary *string `json:"summary,omitempty"`
}

type ResponseTextConfig struct {
	Format *ResponseTextFormat `json:"format,omitempty"`
}

type ResponseTextFormat struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Schema any    `json:"schema,omitempty"`
	Strict *bool  `json:"strict,omitempty"`
}

// ResponseAPITool is the flattened tool declaration of the Response API:
// function name and parameters sit at the top level instead of nesting
// under a "function" object.
type ResponseAPITool struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      *bool  `json:"strict,omitempty"`
}

type ResponseAPIResponse struct {
	Id                string               `json:"id"`
	Object            string               `json:"object"`
	CreatedAt         int64                `json:"created_at"`
	Status            string               `json:"status"`
	Model             string               `json:"model,omitempty"`
	Output            []ResponseOutputItem `json:"output"`
	Error             *model.Error         `json:"error,omitempty"`
	IncompleteDetails *IncompleteDetails   `json:"incomplete_details,omitempty"`
	Usage             *ResponseAPIUsage    `json:"usage,omitempty"`

	GatewayUsage *model.GatewayUsage `json:"gateway_usage,omitempty"`
}

type IncompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type ResponseOutputItem struct {
	Id      string                `json:"id,omitempty"`
	Type    string                `json:"type"`
	Status  string                `json:"status,omitempty"`
	Role    string                `json:"role,omitempty"`
	Content []ResponseContentPart `json:"content,omitempty"`

	// function_call items.
	CallId    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// reasoning items.
	Summary []ResponseReasoningSummary `json:"summary,omitempty"`

	// function_call_output items on the input side.
	Output string `json:"output,omitempty"`
}

type ResponseContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type ResponseReasoningSummary struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ResponseAPIUsage struct {
	InputTokens         int                             `json:"input_tokens"`
	OutputTokens        int                             `json:"output_tokens"`
	TotalTokens         int                             `json:"total_tokens"`
	InputTokensDetails  *ResponseAPIInputTokensDetails  `json:"input_tokens_details,omitempty"`
	OutputTokensDetails *ResponseAPIOutputTokensDetails `json:"output_tokens_details,omitempty"`
}

type ResponseAPIInputTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
	AudioTokens  int `json:"audio_tokens,omitempty"`
}

type ResponseAPIOutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	AudioTokens     int `json:"audio_tokens,omitempty"`
}

// ToModelUsage converts Response API token accounting to the gateway's
// usage shape.
func (r *ResponseAPIUsage) ToModelUsage() *model.Usage {
	if r == nil {
		return nil
	}
	usage := &model.Usage{
		PromptTokens:     r.InputTokens,
		CompletionTokens: r.OutputTokens,
		TotalTokens:      r.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = r.InputTokens + r.OutputTokens
	}
	if r.InputTokensDetails != nil {
		usage.PromptTokensDetails = &model.UsagePromptTokensDetails{
			CachedTokens: r.InputTokensDetails.CachedTokens,
			AudioTokens:  r.InputTokensDetails.AudioTokens,
		}
	}
	if r.OutputTokensDetails != nil {
		usage.CompletionTokensDetails = &model.UsageCompletionTokensDetails{
			ReasoningTokens: r.OutputTokensDetails.ReasoningTokens,
			AudioTokens:     r.OutputTokensDetails.AudioTokens,
		}
	}
	return usage
}

// FromModelUsage converts gateway usage back to the Response API shape for
// fallback-rendered responses.
func (r *ResponseAPIUsage) FromModelUsage(usage *model.Usage) *ResponseAPIUsage {
	if usage == nil {
		return nil
	}
	converted := &ResponseAPIUsage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,
	}
	if usage.PromptTokensDetails != nil {
		converted.InputTokensDetails = &ResponseAPIInputTokensDetails{
			CachedTokens: usage.PromptTokensDetails.CachedTokens,
			AudioTokens:  usage.PromptTokensDetails.AudioTokens,
		}
	}
	if usage.CompletionTokensDetails != nil {
		converted.OutputTokensDetails = &ResponseAPIOutputTokensDetails{
			ReasoningTokens: usage.CompletionTokensDetails.ReasoningTokens,
			AudioTokens:     usage.CompletionTokensDetails.AudioTokens,
		}
	}
	return converted
}

// ResponseAPIStreamEvent is the union shape of Response API SSE events; the
// Type discriminator selects which pointers are populated.
type ResponseAPIStreamEvent struct {
	Type           string               `json:"type"`
	SequenceNumber int                  `json:"sequence_number,omitempty"`
	Response       *ResponseAPIResponse `json:"response,omitempty"`
	OutputIndex    int                  `json:"output_index,omitempty"`
	ItemId         string               `json:"item_id,omitempty"`
	Item           *ResponseOutputItem  `json:"item,omitempty"`
	ContentIndex   int                  `json:"content_index,omitempty"`
	Delta          string               `json:"delta,omitempty"`
	Text           string               `json:"text,omitempty"`
	Arguments      string               `json:"arguments,omitempty"`
}

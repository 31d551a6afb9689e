package model

// ResponseFormat mirrors the OpenAI response_format parameter, including
// structured output via json_schema.
type ResponseFormat struct {
	Type       string      `json:"type,omitempty"`
	JsonSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Description string         `json:"description,omitempty"`
	Name        string         `json:"name"`
	Schema      map[string]any `json:"schema,omitempty"`
	Strict      *bool          `json:"strict,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// GeneralOpenAIRequest is the hub request format every dialect converts
// into before routing. Provider and SessionId are gateway extensions and
// are stripped before the request reaches an upstream.
type GeneralOpenAIRequest struct {
	Model               string          `json:"model,omitempty"`
	Messages            []Message       `json:"messages,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	TopK                int             `json:"top_k,omitempty"`
	N                   int             `json:"n,omitempty"`
	Stop                any             `json:"stop,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	LogitBias           any             `json:"logit_bias,omitempty"`
	Logprobs            *bool           `json:"logprobs,omitempty"`
	TopLogprobs         *int            `json:"top_logprobs,omitempty"`
	User                string          `json:"user,omitempty"`
	Seed                float64         `json:"seed,omitempty"`
	Tools               []Tool          `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
	ParallelTooCalls    *bool           `json:"parallel_tool_calls,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
	ReasoningEffort     *string         `json:"reasoning_effort,omitempty"`
	Thinking            *Thinking       `json:"thinking,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`

	// Gateway extensions, never forwarded upstream.
	Provider  string `json:"provider,omitempty"`
	SessionId string `json:"session_id,omitempty"`
}

// Thinking is the extended reasoning control accepted on Claude-capable
// models and dropped elsewhere.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// GetMaxTokens returns the effective completion token ceiling, preferring
// the newer max_completion_tokens field.
func (r GeneralOpenAIRequest) GetMaxTokens() int {
	if r.MaxCompletionTokens != nil {
		return *r.MaxCompletionTokens
	}
	return r.MaxTokens
}

// StripGatewayFields clears the gateway extension fields so marshalled
// upstream payloads match the provider's published schema.
func (r *GeneralOpenAIRequest) StripGatewayFields() {
	r.Provider = ""
	r.SessionId = ""
}

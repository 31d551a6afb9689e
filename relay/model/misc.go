package model

// Usage is the token accounting block returned on every metered reply.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails     *UsagePromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *UsageCompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

type UsagePromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
	AudioTokens  int `json:"audio_tokens,omitempty"`
}

type UsageCompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	AudioTokens     int `json:"audio_tokens,omitempty"`
}

// Add accumulates another usage block into this one, merging cached-token
// details when both sides carry them.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	if other.PromptTokensDetails != nil {
		if u.PromptTokensDetails == nil {
			u.PromptTokensDetails = &UsagePromptTokensDetails{}
		}
		u.PromptTokensDetails.CachedTokens += other.PromptTokensDetails.CachedTokens
		u.PromptTokensDetails.AudioTokens += other.PromptTokensDetails.AudioTokens
	}
}

// CachedPromptTokens returns the cached share of the prompt, zero when the
// upstream reported no cache details.
func (u *Usage) CachedPromptTokens() int {
	if u == nil || u.PromptTokensDetails == nil {
		return 0
	}
	return u.PromptTokensDetails.CachedTokens
}

// GatewayUsage reports metering results appended to buffered responses.
type GatewayUsage struct {
	CostUSD       float64 `json:"cost_usd"`
	TokensCharged int     `json:"tokens_charged"`
	RequestMs     int64   `json:"request_ms"`
}

// Error is the wire error envelope body. Code keeps its upstream type:
// OpenAI sends strings, some providers send numbers.
type Error struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Param      string `json:"param,omitempty"`
	Code       any    `json:"code,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

type ErrorWithStatusCode struct {
	Error
	StatusCode int `json:"status_code"`
	// Class, when set, overrides the status-derived failure class. The
	// transport sets it for network-level timeouts, which carry no
	// upstream status to classify from.
	Class FailureClass `json:"-"`
	// RawError keeps the wrapped cause for logging; it never serializes.
	RawError error `json:"-"`
}

// FailureClassOf derives the failover class from the recorded status code,
// unless the transport already classified the failure directly.
func (e *ErrorWithStatusCode) FailureClassOf() FailureClass {
	if e == nil {
		return FailureUnknown
	}
	if e.Class != "" {
		return e.Class
	}
	return ClassifyStatusCode(e.StatusCode)
}

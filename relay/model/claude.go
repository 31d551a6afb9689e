package model

import "encoding/json"

// Claude Messages wire types. The same shapes serve both directions: they
// decode requests arriving on /v1/messages and encode what Claude-speaking
// upstreams return.

type ClaudeRequest struct {
	Model         string          `json:"model"`
	Messages      []ClaudeMessage `json:"messages"`
	System        any             `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        *bool           `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          int             `json:"top_k,omitempty"`
	Tools         []ClaudeTool    `json:"tools,omitempty"`
	ToolChoice    any             `json:"tool_choice,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`

	// Gateway extensions, stripped before the request leaves the gateway.
	Provider  string `json:"provider,omitempty"`
	SessionId string `json:"session_id,omitempty"`
}

// IsStreaming reports whether the caller asked for an SSE response.
func (r *ClaudeRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// StripGatewayFields clears the request fields that exist only for gateway
// routing so they never reach an upstream provider.
func (r *ClaudeRequest) StripGatewayFields() {
	r.Provider = ""
	r.SessionId = ""
}

// SystemPrompt flattens the system field, which Anthropic accepts either as a
// plain string or as a list of text blocks.
func (r *ClaudeRequest) SystemPrompt() string {
	switch sys := r.System.(type) {
	case string:
		return sys
	case []any:
		var out string
		for _, block := range sys {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				out += text
			}
		}
		return out
	}
	return ""
}

type ClaudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentBlocks normalizes the message content to typed blocks. A bare string
// becomes a single text block.
func (m *ClaudeMessage) ContentBlocks() []ClaudeContent {
	switch content := m.Content.(type) {
	case string:
		return []ClaudeContent{{Type: "text", Text: content}}
	case []any:
		raw, err := json.Marshal(content)
		if err != nil {
			return nil
		}
		var blocks []ClaudeContent
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil
		}
		return blocks
	case []ClaudeContent:
		return content
	}
	return nil
}

type ClaudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Image blocks.
	Source *ClaudeImageSource `json:"source,omitempty"`

	// Tool use blocks emitted by the assistant.
	Id    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// Tool result blocks sent by the caller.
	ToolUseId string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Extended thinking blocks.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type ClaudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type ClaudeTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

type ClaudeUsage struct {
	InputTokens              int    `json:"input_tokens"`
	OutputTokens             int    `json:"output_tokens"`
	CacheCreationInputTokens int    `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int    `json:"cache_read_input_tokens,omitempty"`
	ServiceTier              string `json:"service_tier,omitempty"`
}

type ClaudeResponse struct {
	Id           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role,omitempty"`
	Content      []ClaudeContent `json:"content,omitempty"`
	Model        string          `json:"model,omitempty"`
	StopReason   string          `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence,omitempty"`
	Usage        ClaudeUsage     `json:"usage"`
	Error        *ClaudeError    `json:"error,omitempty"`

	// GatewayUsage mirrors the OpenAI surface's billing echo.
	GatewayUsage *GatewayUsage `json:"gateway_usage,omitempty"`
}

type ClaudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClaudeStreamEvent is the payload of one Claude Messages SSE event. The
// Type discriminator decides which members are set; the same shape covers
// message_start, content_block_start/delta/stop, message_delta, message_stop
// and error events.
type ClaudeStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	Message      *ClaudeResponse    `json:"message,omitempty"`
	ContentBlock *ClaudeContent     `json:"content_block,omitempty"`
	Delta        *ClaudeStreamDelta `json:"delta,omitempty"`
	Usage        *ClaudeUsage       `json:"usage,omitempty"`
	Error        *ClaudeError       `json:"error,omitempty"`
}

// ClaudeStreamDelta carries the incremental payload of content_block_delta
// and the closing fields of message_delta.
type ClaudeStreamDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJson  string  `json:"partial_json,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	Signature    string  `json:"signature,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// StopReasonFromFinishReason maps a chat-completions finish_reason onto the
// Claude Messages stop_reason vocabulary.
func StopReasonFromFinishReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "", "stop", "content_filter":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// FinishReasonFromStopReason maps a Claude stop_reason onto the
// chat-completions finish_reason vocabulary.
func FinishReasonFromStopReason(stopReason string) string {
	switch stopReason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence", "end_turn", "":
		return "stop"
	default:
		return "stop"
	}
}

// ToUsage converts Claude token accounting to the gateway's usage shape.
func (u ClaudeUsage) ToUsage() *Usage {
	usage := &Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadInputTokens > 0 {
		usage.PromptTokensDetails = &UsagePromptTokensDetails{CachedTokens: u.CacheReadInputTokens}
	}
	return usage
}

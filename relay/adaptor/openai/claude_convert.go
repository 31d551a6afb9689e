package openai

import (
	"encoding/json"
	"fmt"

	"github.com/modelrelay/modelrelay/relay/model"
)

// ConvertClaudeToChatRequest lowers a Claude Messages request into the chat
// hub format so it can be served by any chat-completions upstream. The
// system field becomes a leading system message, tool_result blocks become
// tool-role messages, and assistant tool_use blocks become tool_calls.
func ConvertClaudeToChatRequest(request *model.ClaudeRequest) *model.GeneralOpenAIRequest {
	chatRequest := &model.GeneralOpenAIRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		TopP:        request.TopP,
		TopK:        request.TopK,
		Stream:      request.IsStreaming(),
		Thinking:    request.Thinking,
		Provider:    request.Provider,
		SessionId:   request.SessionId,
	}
	if len(request.StopSequences) > 0 {
		chatRequest.Stop = request.StopSequences
	}
	if sys := request.SystemPrompt(); sys != "" {
		chatRequest.Messages = append(chatRequest.Messages, model.Message{
			Role:    model.RoleSystem,
			Content: sys,
		})
	}
	if userId, ok := request.Metadata["user_id"].(string); ok {
		chatRequest.User = userId
	}

	for _, message := range request.Messages {
		chatRequest.Messages = append(chatRequest.Messages, convertClaudeMessage(message)...)
	}

	for _, tool := range request.Tools {
		chatRequest.Tools = append(chatRequest.Tools, model.Tool{
			Type: "function",
			Function: &model.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toParameterMap(tool.InputSchema),
			},
		})
	}
	chatRequest.ToolChoice = convertClaudeToolChoice(request.ToolChoice)

	return chatRequest
}

// convertClaudeMessage expands one Claude message into its chat equivalents.
// tool_result blocks must precede the user's text in the output because
// chat upstreams require tool messages directly after the tool_calls turn.
func convertClaudeMessage(message model.ClaudeMessage) []model.Message {
	blocks := message.ContentBlocks()

	if message.Role == model.RoleAssistant {
		assistant := model.Message{Role: model.RoleAssistant}
		var parts []model.MessageContent
		for _, block := range blocks {
			switch block.Type {
			case "text":
				parts = append(parts, model.MessageContent{Type: model.ContentTypeText, Text: block.Text})
			case "thinking":
				assistant.ReasoningContent += block.Thinking
			case "tool_use":
				args, err := json.Marshal(block.Input)
				if err != nil {
					args = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, model.Tool{
					Id:   block.Id,
					Type: "function",
					Function: &model.Function{
						Name:      block.Name,
						Arguments: string(args),
					},
				})
			}
		}
		assistant.Content = flattenParts(parts)
		return []model.Message{assistant}
	}

	var out []model.Message
	var parts []model.MessageContent
	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, model.MessageContent{Type: model.ContentTypeText, Text: block.Text})
		case "image":
			if url := claudeImageURL(block.Source); url != "" {
				parts = append(parts, model.MessageContent{
					Type:     model.ContentTypeImageURL,
					ImageURL: &model.ImageURL{Url: url},
				})
			}
		case "tool_result":
			out = append(out, model.Message{
				Role:       model.RoleTool,
				ToolCallId: block.ToolUseId,
				Content:    flattenToolResult(block),
			})
		}
	}
	if len(parts) > 0 {
		out = append(out, model.Message{
			Role:    message.Role,
			Content: flattenParts(parts),
		})
	}
	return out
}

// flattenParts keeps plain-text messages as a bare string, the form every
// chat upstream accepts, and only uses the part-list form when needed.
func flattenParts(parts []model.MessageContent) any {
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 && parts[0].Type == model.ContentTypeText {
		return parts[0].Text
	}
	anyParts := make([]any, 0, len(parts))
	for _, part := range parts {
		anyParts = append(anyParts, part)
	}
	return anyParts
}

func flattenToolResult(block model.ClaudeContent) string {
	switch content := block.Content.(type) {
	case string:
		return content
	case []any:
		var out string
		for _, item := range content {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				out += text
			}
		}
		return out
	case nil:
		return ""
	default:
		raw, err := json.Marshal(content)
		if err != nil {
			return fmt.Sprintf("%v", content)
		}
		return string(raw)
	}
}

func claudeImageURL(source *model.ClaudeImageSource) string {
	if source == nil {
		return ""
	}
	switch source.Type {
	case "base64":
		return "data:" + source.MediaType + ";base64," + source.Data
	case "url":
		return source.URL
	}
	return ""
}

func toParameterMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// convertClaudeToolChoice maps Anthropic's tool_choice object onto the chat
// form: auto stays auto, any becomes required, and a named tool becomes the
// function selector object.
func convertClaudeToolChoice(choice any) any {
	m, ok := choice.(map[string]any)
	if !ok {
		return choice
	}
	switch m["type"] {
	case "auto":
		return "auto"
	case "none":
		return "none"
	case "any":
		return "required"
	case "tool":
		if name, ok := m["name"].(string); ok {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
	}
	return choice
}

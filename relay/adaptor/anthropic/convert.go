package anthropic

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/model"
)

// MaxTokensDefaultedHeader reports the substituted ceiling when a request
// arrived without max_tokens, which the Messages API requires.
const MaxTokensDefaultedHeader = "X-Max-Tokens-Defaulted"

// EnsureMaxTokens substitutes the configured default when the request
// carries no max_tokens, recording the substitution on the context and as a
// response header so callers can tell their output may be truncated.
func EnsureMaxTokens(c *gin.Context, request *model.ClaudeRequest) {
	if request.MaxTokens > 0 {
		return
	}
	request.MaxTokens = config.ClaudeDefaultMaxTokens
	c.Set(ctxkey.MaxTokensDefaulted, request.MaxTokens)
	c.Header(MaxTokensDefaultedHeader, strconv.Itoa(request.MaxTokens))
	gmw.GetLogger(c).Debug("defaulting max_tokens for messages request",
		zap.Int("max_tokens", request.MaxTokens))
}

// ConvertChatToClaudeRequest lifts a chat-hub request into the Claude
// Messages shape. System messages fold into the system field, tool messages
// become tool_result blocks on a user turn, and assistant tool_calls become
// tool_use blocks.
func ConvertChatToClaudeRequest(request *model.GeneralOpenAIRequest) *model.ClaudeRequest {
	streaming := request.Stream
	claudeRequest := &model.ClaudeRequest{
		Model:       request.Model,
		MaxTokens:   request.GetMaxTokens(),
		Temperature: request.Temperature,
		TopP:        request.TopP,
		TopK:        request.TopK,
		Thinking:    request.Thinking,
	}
	if streaming {
		claudeRequest.Stream = &streaming
	}
	claudeRequest.StopSequences = stopSequences(request.Stop)

	var system strings.Builder
	for _, message := range request.Messages {
		switch message.Role {
		case model.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(message.StringContent())
		case model.RoleTool:
			claudeRequest.Messages = append(claudeRequest.Messages, model.ClaudeMessage{
				Role: model.RoleUser,
				Content: []model.ClaudeContent{{
					Type:      "tool_result",
					ToolUseId: message.ToolCallId,
					Content:   message.StringContent(),
				}},
			})
		case model.RoleAssistant:
			claudeRequest.Messages = append(claudeRequest.Messages, convertAssistantMessage(message))
		default:
			claudeRequest.Messages = append(claudeRequest.Messages, convertUserMessage(message))
		}
	}
	if system.Len() > 0 {
		claudeRequest.System = system.String()
	}

	for _, tool := range request.Tools {
		if tool.Function == nil {
			continue
		}
		claudeRequest.Tools = append(claudeRequest.Tools, model.ClaudeTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	claudeRequest.ToolChoice = convertToolChoice(request.ToolChoice)

	if request.User != "" {
		claudeRequest.Metadata = map[string]any{"user_id": request.User}
	}

	return claudeRequest
}

func stopSequences(stop any) []string {
	switch v := stop.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertAssistantMessage(message model.Message) model.ClaudeMessage {
	var blocks []model.ClaudeContent
	if text := message.StringContent(); text != "" {
		blocks = append(blocks, model.ClaudeContent{Type: "text", Text: text})
	}
	for _, call := range message.ToolCalls {
		if call.Function == nil {
			continue
		}
		blocks = append(blocks, model.ClaudeContent{
			Type:  "tool_use",
			Id:    call.Id,
			Name:  call.Function.Name,
			Input: parseToolArguments(call.Function.Arguments),
		})
	}
	return model.ClaudeMessage{Role: model.RoleAssistant, Content: blocks}
}

func convertUserMessage(message model.Message) model.ClaudeMessage {
	if message.IsStringContent() {
		return model.ClaudeMessage{Role: model.RoleUser, Content: message.StringContent()}
	}

	var blocks []model.ClaudeContent
	parts, _ := message.Content.([]any)
	for _, part := range parts {
		m, ok := part.(map[string]any)
		if !ok {
			continue
		}
		switch m["type"] {
		case model.ContentTypeText:
			if text, ok := m["text"].(string); ok {
				blocks = append(blocks, model.ClaudeContent{Type: "text", Text: text})
			}
		case model.ContentTypeImageURL:
			if imageURL, ok := m["image_url"].(map[string]any); ok {
				if url, ok := imageURL["url"].(string); ok {
					if source := imageSource(url); source != nil {
						blocks = append(blocks, model.ClaudeContent{Type: "image", Source: source})
					}
				}
			}
		}
	}
	return model.ClaudeMessage{Role: model.RoleUser, Content: blocks}
}

// imageSource maps a chat image URL onto Claude's source block: data URLs
// become base64 sources, everything else a url source.
func imageSource(url string) *model.ClaudeImageSource {
	if strings.HasPrefix(url, "data:") {
		rest := strings.TrimPrefix(url, "data:")
		mediaType, data, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil
		}
		return &model.ClaudeImageSource{Type: "base64", MediaType: mediaType, Data: data}
	}
	return &model.ClaudeImageSource{Type: "url", URL: url}
}

func parseToolArguments(arguments any) any {
	switch args := arguments.(type) {
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return map[string]any{}
		}
		return parsed
	case map[string]any:
		return args
	case nil:
		return map[string]any{}
	}
	return arguments
}

// convertToolChoice maps the chat tool_choice onto Anthropic's object form:
// "required" becomes any, a function selector becomes a named tool.
func convertToolChoice(choice any) any {
	switch v := choice.(type) {
	case string:
		switch v {
		case "auto":
			return map[string]any{"type": "auto"}
		case "none":
			return map[string]any{"type": "none"}
		case "required":
			return map[string]any{"type": "any"}
		}
	case map[string]any:
		if v["type"] == "function" {
			if fn, ok := v["function"].(map[string]any); ok {
				if name, ok := fn["name"].(string); ok {
					return map[string]any{"type": "tool", "name": name}
				}
			}
		}
	}
	return nil
}

// ConvertClaudeResponseToChat folds a buffered Messages response into the
// chat-hub response shape so the shared renderers can serve any client
// dialect.
func ConvertClaudeResponseToChat(claudeResponse *model.ClaudeResponse, modelName string) *openai.TextResponse {
	message := model.Message{Role: model.RoleAssistant}
	var text strings.Builder
	for _, block := range claudeResponse.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			message.ReasoningContent += block.Thinking
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			message.ToolCalls = append(message.ToolCalls, model.Tool{
				Id:   block.Id,
				Type: "function",
				Function: &model.Function{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	message.Content = text.String()

	usage := claudeResponse.Usage.ToUsage()
	return &openai.TextResponse{
		Id:      claudeResponse.Id,
		Model:   modelName,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Choices: []openai.TextResponseChoice{{
			Message:      message,
			FinishReason: model.FinishReasonFromStopReason(claudeResponse.StopReason),
		}},
		Usage: *usage,
	}
}

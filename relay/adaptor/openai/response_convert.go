package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/relay/model"
)

// ConvertResponseAPIToChatRequest lowers a Response API request into the
// chat-completions shape so providers without a /v1/responses surface can
// serve it. Instructions become the system message; input items map onto
// chat messages, with function_call/function_call_output pairs restored to
// assistant tool calls and tool results.
func ConvertResponseAPIToChatRequest(request *ResponseAPIRequest) (*model.GeneralOpenAIRequest, error) {
	chatRequest := &model.GeneralOpenAIRequest{
		Model:            request.Model,
		Temperature:      request.Temperature,
		TopP:             request.TopP,
		Metadata:         request.Metadata,
		ParallelTooCalls: request.ParallelToolCalls,
		ToolChoice:       normalizeResponseToolChoice(request.ToolChoice),
		Provider:         request.Provider,
		SessionId:        request.SessionId,
	}
	if request.Stream != nil {
		chatRequest.Stream = *request.Stream
	}
	if request.MaxOutputTokens != nil {
		chatRequest.MaxCompletionTokens = request.MaxOutputTokens
	}
	if request.User != nil {
		chatRequest.User = *request.User
	}
	if request.Reasoning != nil && request.Reasoning.Effort != nil {
		chatRequest.ReasoningEffort = request.Reasoning.Effort
	}
	if request.Text != nil && request.Text.Format != nil {
		chatRequest.ResponseFormat = convertTextFormat(request.Text.Format)
	}
	for _, tool := range request.Tools {
		if tool.Type != "function" {
			continue
		}
		params, _ := tool.Parameters.(map[string]any)
		chatRequest.Tools = append(chatRequest.Tools, model.Tool{
			Type: "function",
			Function: &model.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
				Strict:      tool.Strict,
			},
		})
	}

	if request.Instructions != nil && *request.Instructions != "" {
		chatRequest.Messages = append(chatRequest.Messages, model.Message{
			Role:    model.RoleSystem,
			Content: *request.Instructions,
		})
	}

	messages, err := convertResponseInput(request.Input)
	if err != nil {
		return nil, err
	}
	chatRequest.Messages = append(chatRequest.Messages, messages...)
	return chatRequest, nil
}

func convertTextFormat(format *ResponseTextFormat) *model.ResponseFormat {
	switch format.Type {
	case "json_schema":
		schema, _ := format.Schema.(map[string]any)
		return &model.ResponseFormat{
			Type: "json_schema",
			JsonSchema: &model.JSONSchema{
				Name:   format.Name,
				Schema: schema,
				Strict: format.Strict,
			},
		}
	case "json_object", "text":
		return &model.ResponseFormat{Type: format.Type}
	}
	return nil
}

// normalizeResponseToolChoice rewrites the flattened Response API tool choice
// ({"type":"function","name":...}) into the nested chat form.
func normalizeResponseToolChoice(choice any) any {
	m, ok := choice.(map[string]any)
	if !ok {
		return choice
	}
	if m["type"] == "function" {
		if name, ok := m["name"].(string); ok && name != "" {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
	}
	return choice
}

func convertResponseInput(input any) ([]model.Message, error) {
	switch typed := input.(type) {
	case nil:
		return nil, nil
	case string:
		return []model.Message{{Role: model.RoleUser, Content: typed}}, nil
	case []any:
		var messages []model.Message
		for _, rawItem := range typed {
			itemMap, ok := rawItem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("unsupported input item %T", rawItem)
			}
			// String content would not decode into the structured part list;
			// convertResponseContent reads it straight from the raw map.
			toDecode := itemMap
			if _, isString := itemMap["content"].(string); isString {
				toDecode = make(map[string]any, len(itemMap))
				for k, v := range itemMap {
					if k != "content" {
						toDecode[k] = v
					}
				}
			}
			raw, err := json.Marshal(toDecode)
			if err != nil {
				return nil, err
			}
			var item ResponseOutputItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, err
			}
			message, ok := convertResponseInputItem(item, itemMap)
			if ok {
				messages = append(messages, message)
			}
		}
		return messages, nil
	}
	return nil, fmt.Errorf("unsupported input type %T", input)
}

func convertResponseInputItem(item ResponseOutputItem, raw map[string]any) (model.Message, bool) {
	itemType := item.Type
	if itemType == "" {
		itemType = "message"
	}
	switch itemType {
	case "message":
		role := item.Role
		if role == "" {
			role = model.RoleUser
		}
		return model.Message{Role: role, Content: convertResponseContent(item, raw)}, true
	case "function_call":
		return model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.Tool{{
				Id:   item.CallId,
				Type: "function",
				Function: &model.Function{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			}},
		}, true
	case "function_call_output":
		return model.Message{
			Role:       model.RoleTool,
			ToolCallId: item.CallId,
			Content:    item.Output,
		}, true
	case "reasoning":
		// Reasoning items from prior turns carry no billable content.
		return model.Message{}, false
	}
	return model.Message{}, false
}

func convertResponseContent(item ResponseOutputItem, raw map[string]any) any {
	if rawContent, ok := raw["content"].(string); ok {
		return rawContent
	}
	if len(item.Content) == 0 {
		return ""
	}
	var (
		parts    []model.MessageContent
		textOnly = true
		builder  strings.Builder
	)
	for _, part := range item.Content {
		switch part.Type {
		case "input_text", "output_text", "text":
			builder.WriteString(part.Text)
			parts = append(parts, model.MessageContent{Type: model.ContentTypeText, Text: part.Text})
		case "input_image":
			textOnly = false
			parts = append(parts, model.MessageContent{
				Type:     model.ContentTypeImageURL,
				ImageURL: &model.ImageURL{Url: part.ImageURL, Detail: part.Detail},
			})
		}
	}
	if textOnly {
		return builder.String()
	}
	return parts
}

// ConvertChatResponseToResponseAPI lifts a buffered chat completion into the
// Response API shape for clients that called /v1/responses against a
// provider that lacks it.
func ConvertChatResponseToResponseAPI(textResponse *TextResponse, requestId string) *ResponseAPIResponse {
	response := &ResponseAPIResponse{
		Id:        responseIdFrom(requestId),
		Object:    "response",
		CreatedAt: textResponse.Created,
		Status:    "completed",
		Model:     textResponse.Model,
		Usage:     (&ResponseAPIUsage{}).FromModelUsage(&textResponse.Usage),
	}
	if response.CreatedAt == 0 {
		response.CreatedAt = time.Now().Unix()
	}

	for _, choice := range textResponse.Choices {
		if reasoning := choice.Message.ReasoningContent; reasoning != "" {
			response.Output = append(response.Output, ResponseOutputItem{
				Id:      responseItemId("rs", requestId, len(response.Output)),
				Type:    "reasoning",
				Summary: []ResponseReasoningSummary{{Type: "summary_text", Text: reasoning}},
			})
		}
		if content := choice.Message.StringContent(); content != "" {
			response.Output = append(response.Output, ResponseOutputItem{
				Id:      responseItemId("msg", requestId, len(response.Output)),
				Type:    "message",
				Status:  "completed",
				Role:    model.RoleAssistant,
				Content: []ResponseContentPart{{Type: "output_text", Text: content}},
			})
		}
		for _, tool := range choice.Message.ToolCalls {
			if tool.Function == nil {
				continue
			}
			arguments, _ := tool.Function.Arguments.(string)
			response.Output = append(response.Output, ResponseOutputItem{
				Id:        responseItemId("fc", requestId, len(response.Output)),
				Type:      "function_call",
				Status:    "completed",
				CallId:    tool.Id,
				Name:      tool.Function.Name,
				Arguments: arguments,
			})
		}
		if choice.FinishReason == "length" {
			response.Status = "incomplete"
			response.IncompleteDetails = &IncompleteDetails{Reason: "max_output_tokens"}
		}
	}
	return response
}

// ConvertResponseAPIToChatCompletion folds a buffered Response API reply into
// a chat completion, used when an OpenAI-compatible provider only exposes
// /v1/responses.
func ConvertResponseAPIToChatCompletion(responseAPIResp *ResponseAPIResponse) *TextResponse {
	choice := TextResponseChoice{
		Index:        0,
		FinishReason: "stop",
	}
	choice.Message.Role = model.RoleAssistant

	var contentBuilder strings.Builder
	for _, item := range responseAPIResp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					contentBuilder.WriteString(part.Text)
				}
			}
		case "function_call":
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, model.Tool{
				Id:   item.CallId,
				Type: "function",
				Function: &model.Function{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
			choice.FinishReason = "tool_calls"
		case "reasoning":
			for _, summary := range item.Summary {
				choice.Message.ReasoningContent += summary.Text
			}
		}
	}
	choice.Message.Content = contentBuilder.String()
	if responseAPIResp.Status == "incomplete" {
		choice.FinishReason = "length"
	}

	textResponse := &TextResponse{
		Id:      responseAPIResp.Id,
		Model:   responseAPIResp.Model,
		Object:  "chat.completion",
		Created: responseAPIResp.CreatedAt,
		Choices: []TextResponseChoice{choice},
	}
	if usage := responseAPIResp.Usage.ToModelUsage(); usage != nil {
		textResponse.Usage = *usage
	}
	return textResponse
}

func responseIdFrom(requestId string) string {
	return "resp_" + strings.ReplaceAll(requestId, "-", "")
}

func responseItemId(kind, requestId string, index int) string {
	return fmt.Sprintf("%s_%s_%d", kind, strings.ReplaceAll(requestId, "-", ""), index)
}

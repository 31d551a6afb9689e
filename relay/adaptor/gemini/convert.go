package gemini

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/relay/model"
)

// maxInlineImageBytes caps what a user-supplied image URL may expand to
// inside the upstream payload.
const maxInlineImageBytes = 20 << 20

var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

// ConvertRequest lowers a chat-hub request into the Generative Language
// shape. System messages become systemInstruction, tool messages become
// functionResponse parts, assistant tool_calls become functionCall parts,
// and image URLs are inlined as base64 data.
func ConvertRequest(c *gin.Context, textRequest *model.GeneralOpenAIRequest) *ChatRequest {
	safety := make([]ChatSafetySettings, 0, len(harmCategories))
	for _, category := range harmCategories {
		safety = append(safety, ChatSafetySettings{
			Category:  category,
			Threshold: config.GeminiSafetySetting,
		})
	}

	geminiRequest := &ChatRequest{
		Contents:       make([]ChatContent, 0, len(textRequest.Messages)),
		SafetySettings: safety,
		GenerationConfig: ChatGenerationConfig{
			Temperature:     textRequest.Temperature,
			TopP:            textRequest.TopP,
			TopK:            textRequest.TopK,
			MaxOutputTokens: textRequest.GetMaxTokens(),
			StopSequences:   stopSequences(textRequest.Stop),
		},
	}
	if textRequest.ResponseFormat != nil {
		switch textRequest.ResponseFormat.Type {
		case "json_object", "json_schema":
			geminiRequest.GenerationConfig.ResponseMimeType = "application/json"
		case "text":
			geminiRequest.GenerationConfig.ResponseMimeType = "text/plain"
		}
		if textRequest.ResponseFormat.JsonSchema != nil {
			geminiRequest.GenerationConfig.ResponseSchema = cleanSchema(textRequest.ResponseFormat.JsonSchema.Schema)
			geminiRequest.GenerationConfig.ResponseMimeType = "application/json"
		}
	}

	var system []Part
	for _, message := range textRequest.Messages {
		switch message.Role {
		case model.RoleSystem, model.RoleDeveloper:
			system = append(system, Part{Text: message.StringContent()})
		case model.RoleTool:
			geminiRequest.Contents = append(geminiRequest.Contents, ChatContent{
				Role: "user",
				Parts: []Part{{FunctionResponse: &FunctionResponse{
					Name:     functionNameForCall(textRequest.Messages, message.ToolCallId),
					Response: map[string]any{"content": message.StringContent()},
				}}},
			})
		case model.RoleAssistant:
			geminiRequest.Contents = append(geminiRequest.Contents, convertAssistantContent(message))
		default:
			geminiRequest.Contents = append(geminiRequest.Contents, convertUserContent(c, message))
		}
	}
	if len(system) > 0 {
		geminiRequest.SystemInstruction = &ChatContent{Parts: system}
	}

	if len(textRequest.Tools) > 0 {
		declarations := make([]FunctionDeclaration, 0, len(textRequest.Tools))
		for _, tool := range textRequest.Tools {
			if tool.Function == nil {
				continue
			}
			declarations = append(declarations, FunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  cleanSchema(tool.Function.Parameters),
			})
		}
		geminiRequest.Tools = []ChatTool{{FunctionDeclarations: declarations}}
		geminiRequest.ToolConfig = convertToolChoice(textRequest.ToolChoice)
	}

	return geminiRequest
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

// functionNameForCall recovers the function name a tool result answers by
// scanning back for the assistant turn that issued the call id.
func functionNameForCall(messages []model.Message, toolCallId string) string {
	for _, message := range messages {
		for _, call := range message.ToolCalls {
			if call.Id == toolCallId && call.Function != nil {
				return call.Function.Name
			}
		}
	}
	return "tool"
}

func convertAssistantContent(message model.Message) ChatContent {
	content := ChatContent{Role: "model"}
	if text := message.StringContent(); text != "" {
		content.Parts = append(content.Parts, Part{Text: text})
	}
	for _, call := range message.ToolCalls {
		if call.Function == nil {
			continue
		}
		content.Parts = append(content.Parts, Part{FunctionCall: &FunctionCall{
			Name: call.Function.Name,
			Args: parseCallArgs(call.Function.Arguments),
		}})
	}
	if len(content.Parts) == 0 {
		content.Parts = []Part{{Text: ""}}
	}
	return content
}

func parseCallArgs(arguments any) map[string]any {
	switch args := arguments.(type) {
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return map[string]any{}
		}
		return parsed
	case map[string]any:
		return args
	}
	return map[string]any{}
}

func convertUserContent(c *gin.Context, message model.Message) ChatContent {
	content := ChatContent{Role: "user"}
	if message.IsStringContent() {
		content.Parts = []Part{{Text: message.StringContent()}}
		return content
	}

	parts, _ := message.Content.([]any)
	for _, part := range parts {
		m, ok := part.(map[string]any)
		if !ok {
			continue
		}
		switch m["type"] {
		case model.ContentTypeText:
			if text, ok := m["text"].(string); ok {
				content.Parts = append(content.Parts, Part{Text: text})
			}
		case model.ContentTypeImageURL:
			imageURL, ok := m["image_url"].(map[string]any)
			if !ok {
				continue
			}
			url, _ := imageURL["url"].(string)
			inline, err := inlineImage(url)
			if err != nil {
				gmw.GetLogger(c).Warn("dropping unusable image part", zap.Error(err))
				continue
			}
			content.Parts = append(content.Parts, Part{InlineData: inline})
		}
	}
	if len(content.Parts) == 0 {
		content.Parts = []Part{{Text: ""}}
	}
	return content
}

// inlineImage turns an image URL into inline base64 data. Data URLs decode
// locally; remote URLs are fetched through the user-content client, which
// blocks internal addresses.
func inlineImage(url string) (*InlineData, error) {
	if strings.HasPrefix(url, "data:") {
		rest := strings.TrimPrefix(url, "data:")
		mimeType, data, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil, errors.New("unsupported data url encoding")
		}
		return &InlineData{MimeType: mimeType, Data: data}, nil
	}

	resp, err := client.UserContentRequestHTTPClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("image fetch returned " + resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineImageBytes))
	if err != nil {
		return nil, err
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(raw)
	}
	return &InlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(raw)}, nil
}

func convertToolChoice(toolChoice any) *ToolConfig {
	switch v := toolChoice.(type) {
	case string:
		switch v {
		case "none":
			return &ToolConfig{FunctionCallingConfig: FunctionCallingConfig{Mode: "NONE"}}
		case "required":
			return &ToolConfig{FunctionCallingConfig: FunctionCallingConfig{Mode: "ANY"}}
		case "auto":
			return &ToolConfig{FunctionCallingConfig: FunctionCallingConfig{Mode: "AUTO"}}
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				return &ToolConfig{FunctionCallingConfig: FunctionCallingConfig{
					Mode:                 "ANY",
					AllowedFunctionNames: []string{name},
				}}
			}
		}
	}
	return nil
}

// cleanSchema strips JSON Schema keywords the Generative Language API
// rejects and uppercases type names, recursively.
func cleanSchema(schema any) any {
	switch v := schema.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, value := range v {
			switch key {
			case "additionalProperties", "$schema", "$id", "$defs", "definitions",
				"exclusiveMaximum", "exclusiveMinimum", "const", "examples":
				continue
			case "type":
				if typeName, ok := value.(string); ok {
					cleaned[key] = strings.ToUpper(typeName)
					continue
				}
			}
			cleaned[key] = cleanSchema(value)
		}
		return cleaned
	case []any:
		cleaned := make([]any, 0, len(v))
		for _, item := range v {
			cleaned = append(cleaned, cleanSchema(item))
		}
		return cleaned
	}
	return schema
}

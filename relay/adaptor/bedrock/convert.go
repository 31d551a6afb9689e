package bedrock

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/relay/model"
)

// maxImageBytes caps what a user-supplied image may expand to in the
// Converse payload. Bedrock rejects larger images anyway.
const maxImageBytes = 5 << 20

// ConverseParams is everything ConvertRequest extracts from a chat-hub
// request. The transport fills in the model id and picks the streaming or
// buffered Converse call.
type ConverseParams struct {
	Messages   []types.Message
	System     []types.SystemContentBlock
	Inference  *types.InferenceConfiguration
	ToolConfig *types.ToolConfiguration
}

// ConvertRequest lowers a chat-hub request into Converse API shapes. System
// messages become system blocks, tool messages become toolResult blocks,
// and assistant tool_calls become toolUse blocks.
func ConvertRequest(c *gin.Context, textRequest *model.GeneralOpenAIRequest) (*ConverseParams, error) {
	params := &ConverseParams{
		Inference: inferenceConfig(textRequest),
	}

	for _, message := range textRequest.Messages {
		switch message.Role {
		case model.RoleSystem, model.RoleDeveloper:
			params.System = append(params.System, &types.SystemContentBlockMemberText{
				Value: message.StringContent(),
			})
		case model.RoleTool:
			params.Messages = appendToolResult(params.Messages, message)
		case model.RoleAssistant:
			params.Messages = append(params.Messages, assistantMessage(message))
		default:
			params.Messages = append(params.Messages, userMessage(c, message))
		}
	}

	if len(textRequest.Tools) > 0 {
		toolConfig, err := convertTools(textRequest.Tools, textRequest.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolConfig = toolConfig
	}
	return params, nil
}

func inferenceConfig(textRequest *model.GeneralOpenAIRequest) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	if maxTokens := textRequest.GetMaxTokens(); maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if textRequest.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*textRequest.Temperature))
	}
	if textRequest.TopP != nil {
		cfg.TopP = aws.Float32(float32(*textRequest.TopP))
	}
	switch stop := textRequest.Stop.(type) {
	case string:
		if stop != "" {
			cfg.StopSequences = []string{stop}
		}
	case []string:
		cfg.StopSequences = stop
	case []any:
		for _, item := range stop {
			if s, ok := item.(string); ok {
				cfg.StopSequences = append(cfg.StopSequences, s)
			}
		}
	}
	return cfg
}

// appendToolResult attaches a tool result to the trailing user turn,
// creating one if needed. Converse requires tool results to ride in user
// messages.
func appendToolResult(messages []types.Message, message model.Message) []types.Message {
	block := &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
		ToolUseId: aws.String(message.ToolCallId),
		Content: []types.ToolResultContentBlock{
			&types.ToolResultContentBlockMemberText{Value: message.StringContent()},
		},
	}}
	if n := len(messages); n > 0 && messages[n-1].Role == types.ConversationRoleUser {
		if _, ok := messages[n-1].Content[0].(*types.ContentBlockMemberToolResult); ok {
			messages[n-1].Content = append(messages[n-1].Content, block)
			return messages
		}
	}
	return append(messages, types.Message{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{block},
	})
}

func assistantMessage(message model.Message) types.Message {
	out := types.Message{Role: types.ConversationRoleAssistant}
	if text := message.StringContent(); text != "" {
		out.Content = append(out.Content, &types.ContentBlockMemberText{Value: text})
	}
	for _, call := range message.ToolCalls {
		if call.Function == nil {
			continue
		}
		out.Content = append(out.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(call.Id),
			Name:      aws.String(call.Function.Name),
			Input:     document.NewLazyDocument(parseCallArgs(call.Function.Arguments)),
		}})
	}
	if len(out.Content) == 0 {
		out.Content = []types.ContentBlock{&types.ContentBlockMemberText{Value: ""}}
	}
	return out
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

func userMessage(c *gin.Context, message model.Message) types.Message {
	out := types.Message{Role: types.ConversationRoleUser}
	if message.IsStringContent() {
		out.Content = []types.ContentBlock{&types.ContentBlockMemberText{Value: message.StringContent()}}
		return out
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
				out.Content = append(out.Content, &types.ContentBlockMemberText{Value: text})
			}
		case model.ContentTypeImageURL:
			imageURL, ok := m["image_url"].(map[string]any)
			if !ok {
				continue
			}
			url, _ := imageURL["url"].(string)
			block, err := imageBlock(url)
			if err != nil {
				gmw.GetLogger(c).Warn("dropping unusable image part", zap.Error(err))
				continue
			}
			out.Content = append(out.Content, block)
		}
	}
	if len(out.Content) == 0 {
		out.Content = []types.ContentBlock{&types.ContentBlockMemberText{Value: ""}}
	}
	return out
}

// imageBlock turns an image URL into raw Converse image bytes. Data URLs
// decode locally; remote URLs are fetched through the user-content client,
// which blocks internal addresses.
func imageBlock(url string) (*types.ContentBlockMemberImage, error) {
	var (
		mimeType string
		raw      []byte
	)
	if strings.HasPrefix(url, "data:") {
		rest := strings.TrimPrefix(url, "data:")
		mt, data, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil, errors.New("unsupported data url encoding")
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, errors.Wrap(err, "decode image data url")
		}
		mimeType, raw = mt, decoded
	} else {
		resp, err := client.UserContentRequestHTTPClient.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.New("image fetch returned " + resp.Status)
		}
		raw, err = io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return nil, err
		}
		mimeType = resp.Header.Get("Content-Type")
		if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
			mimeType = http.DetectContentType(raw)
		}
	}
	if len(raw) > maxImageBytes {
		return nil, errors.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	format, err := imageFormat(mimeType)
	if err != nil {
		return nil, err
	}
	return &types.ContentBlockMemberImage{Value: types.ImageBlock{
		Format: format,
		Source: &types.ImageSourceMemberBytes{Value: raw},
	}}, nil
}

func imageFormat(mimeType string) (types.ImageFormat, error) {
	switch mimeType {
	case "image/png":
		return types.ImageFormatPng, nil
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, nil
	case "image/gif":
		return types.ImageFormatGif, nil
	case "image/webp":
		return types.ImageFormatWebp, nil
	}
	return "", errors.Errorf("unsupported image type %q", mimeType)
}

func convertTools(tools []model.Tool, toolChoice any) (*types.ToolConfiguration, error) {
	cfg := &types.ToolConfiguration{}
	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}
		var schema any = tool.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(tool.Function.Name),
			Description: nonEmpty(tool.Function.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	if len(cfg.Tools) == 0 {
		return nil, errors.New("tools contained no function declarations")
	}

	switch v := toolChoice.(type) {
	case string:
		switch v {
		case "required":
			cfg.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
		case "auto", "":
			cfg.ToolChoice = &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
		}
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				cfg.ToolChoice = &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{
					Name: aws.String(name),
				}}
			}
		}
	}
	return cfg, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

package bedrock

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
)

// Adaptor speaks the Bedrock Converse API over the AWS SDK. There is no
// HTTP hop to proxy: ConvertRequest stashes the Converse parameters on the
// context, DoRequest is a no-op, and DoResponse executes the SDK call and
// folds the result back into the client's dialect.
type Adaptor struct{}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetChannelName() string {
	return "bedrock"
}

func (a *Adaptor) GetModelList() []string {
	return adaptor.GetModelListFromPricing(ModelRatios)
}

func (a *Adaptor) GetDefaultModelPricing() map[string]adaptor.ModelConfig {
	return ModelRatios
}

// GetRequestURL reports the nominal regional endpoint. The SDK resolves
// the real endpoint itself; this value only feeds logging.
func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	return "https://bedrock-runtime." + m.Region + ".amazonaws.com", nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	// SigV4 signing happens inside the SDK transport.
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	params, err := ConvertRequest(c, request)
	if err != nil {
		return nil, err
	}
	c.Set(ctxkey.ConvertedRequest, params)
	return params, nil
}

func (a *Adaptor) ConvertClaudeRequest(c *gin.Context, request *model.ClaudeRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	params, err := convertClaudeParams(request)
	if err != nil {
		return nil, err
	}
	c.Set(ctxkey.ConvertedRequest, params)
	return params, nil
}

func (a *Adaptor) ConvertImageRequest(c *gin.Context, request *model.ImageRequest) (any, error) {
	return nil, errors.New("bedrock image generation is not supported")
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	// The Converse call runs in DoResponse through the SDK.
	return nil, nil
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	v, ok := c.Get(ctxkey.ConvertedRequest)
	if !ok {
		return nil, openai.ErrorWrapper(errors.New("converse parameters missing"), "invalid_converse_request", http.StatusInternalServerError)
	}
	params, ok := v.(*ConverseParams)
	if !ok {
		return nil, openai.ErrorWrapper(errors.New("converse parameters have unexpected type"), "invalid_converse_request", http.StatusInternalServerError)
	}

	if m.IsStream {
		errResp, usage := StreamHandler(c, m, params)
		return usage, errResp
	}
	errResp, usage := Handler(c, m, params)
	return usage, errResp
}

// convertClaudeParams lowers a native Claude Messages request into Converse
// shapes. The two APIs are near-isomorphic for Claude models, so the
// mapping is mostly block-by-block.
func convertClaudeParams(request *model.ClaudeRequest) (*ConverseParams, error) {
	params := &ConverseParams{Inference: &types.InferenceConfiguration{}}

	if request.MaxTokens > 0 {
		params.Inference.MaxTokens = aws.Int32(int32(request.MaxTokens))
	}
	if request.Temperature != nil {
		params.Inference.Temperature = aws.Float32(float32(*request.Temperature))
	}
	if request.TopP != nil {
		params.Inference.TopP = aws.Float32(float32(*request.TopP))
	}
	params.Inference.StopSequences = request.StopSequences

	if system := request.SystemPrompt(); system != "" {
		params.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	for i := range request.Messages {
		msg, err := convertClaudeMessage(&request.Messages[i])
		if err != nil {
			return nil, err
		}
		params.Messages = append(params.Messages, msg)
	}

	if len(request.Tools) > 0 {
		cfg := &types.ToolConfiguration{}
		for _, tool := range request.Tools {
			var schema any = tool.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: nonEmpty(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}})
		}
		if choice, ok := request.ToolChoice.(map[string]any); ok {
			switch choice["type"] {
			case "any":
				cfg.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
			case "tool":
				if name, ok := choice["name"].(string); ok {
					cfg.ToolChoice = &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{
						Name: aws.String(name),
					}}
				}
			default:
				cfg.ToolChoice = &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
			}
		}
		params.ToolConfig = cfg
	}
	return params, nil
}

func convertClaudeMessage(msg *model.ClaudeMessage) (types.Message, error) {
	out := types.Message{Role: types.ConversationRoleUser}
	if msg.Role == model.RoleAssistant {
		out.Role = types.ConversationRoleAssistant
	}

	for _, block := range msg.ContentBlocks() {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, &types.ContentBlockMemberText{Value: block.Text})
		case "image":
			if block.Source == nil || block.Source.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(block.Source.Data)
			if err != nil {
				return out, errors.Wrap(err, "decode image block")
			}
			format, err := imageFormat(block.Source.MediaType)
			if err != nil {
				return out, err
			}
			out.Content = append(out.Content, &types.ContentBlockMemberImage{Value: types.ImageBlock{
				Format: format,
				Source: &types.ImageSourceMemberBytes{Value: raw},
			}})
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			out.Content = append(out.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(block.Id),
				Name:      aws.String(block.Name),
				Input:     document.NewLazyDocument(input),
			}})
		case "tool_result":
			result := types.ToolResultBlock{ToolUseId: aws.String(block.ToolUseId)}
			if text := flattenToolResult(block.Content); text != "" {
				result.Content = []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: text},
				}
			}
			if block.IsError {
				result.Status = types.ToolResultStatusError
			}
			out.Content = append(out.Content, &types.ContentBlockMemberToolResult{Value: result})
		}
	}
	if len(out.Content) == 0 {
		out.Content = []types.ContentBlock{&types.ContentBlockMemberText{Value: ""}}
	}
	return out, nil
}

func flattenToolResult(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					out += text
				}
			}
		}
		return out
	}
	return ""
}

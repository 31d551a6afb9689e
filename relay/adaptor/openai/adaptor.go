package openai

import (
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// Adaptor speaks to api.openai.com and to any endpoint wired up with the
// openai api_type. Chat and image requests pass through on their native
// paths; Response API requests pass through natively too, since OpenAI is
// the one family that serves /v1/responses itself. Claude Messages requests
// are lowered to chat completions.
type Adaptor struct {
	adaptor.DefaultPricingMethods
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetChannelName() string {
	return "openai"
}

func (a *Adaptor) GetModelList() []string {
	return adaptor.GetModelListFromPricing(ModelRatios)
}

func (a *Adaptor) GetDefaultModelPricing() map[string]adaptor.ModelConfig {
	return ModelRatios
}

func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	switch m.Mode {
	case relaymode.ResponseAPI:
		if m.ResponseAPIFallback {
			return GetFullRequestURL(m.BaseURL, "/v1/chat/completions"), nil
		}
		return GetFullRequestURL(m.BaseURL, "/v1/responses"), nil
	case relaymode.ImagesGenerations:
		return GetFullRequestURL(m.BaseURL, "/v1/images/generations"), nil
	default:
		// Claude Messages requests were already lowered to chat.
		return GetFullRequestURL(m.BaseURL, "/v1/chat/completions"), nil
	}
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, m)
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	NormalizeChatRequest(c, request)
	return request, nil
}

func (a *Adaptor) ConvertClaudeRequest(c *gin.Context, request *model.ClaudeRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	chatRequest := ConvertClaudeToChatRequest(request)
	NormalizeChatRequest(c, chatRequest)
	return chatRequest, nil
}

func (a *Adaptor) ConvertImageRequest(c *gin.Context, request *model.ImageRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.Provider = ""
	return request, nil
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return adaptor.DoRequestHelper(a, c, m, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	switch m.Mode {
	case relaymode.ImagesGenerations:
		errResp, usage := ImageHandler(c, resp)
		return usage, errResp
	case relaymode.ResponseAPI:
		if !m.ResponseAPIFallback {
			if m.IsStream {
				errResp, usage := ResponseAPIStreamHandler(c, resp, m.PromptTokens, m.OriginModelName)
				return usage, errResp
			}
			errResp, usage := ResponseAPIHandler(c, resp, m.PromptTokens, m.OriginModelName)
			return usage, errResp
		}
	}
	if m.IsStream {
		errResp, usage := StreamHandler(c, resp, m.PromptTokens, m.ActualModelName)
		return usage, errResp
	}
	errResp, usage := Handler(c, resp, m.PromptTokens, m.ActualModelName)
	return usage, errResp
}

// GetFullRequestURL joins a binding base URL with an API path. Bindings may
// carry a trailing slash or a full custom prefix; both join cleanly.
func GetFullRequestURL(baseURL, requestPath string) string {
	return strings.TrimSuffix(baseURL, "/") + requestPath
}

// NormalizeChatRequest applies the parameter rewrites every OpenAI-dialect
// upstream needs before dispatch. Compatible gateways share it since they
// proxy the same model families.
func NormalizeChatRequest(c *gin.Context, request *model.GeneralOpenAIRequest) {
	normalizeForReasoningModel(c, request)
	if request.Stream {
		// Billing needs the upstream's own token accounting on streams.
		if request.StreamOptions == nil {
			request.StreamOptions = &model.StreamOptions{}
		}
		request.StreamOptions.IncludeUsage = true
	}
}

// normalizeForReasoningModel rewrites parameters the o-series and gpt-5
// families reject: max_tokens moves to max_completion_tokens, and sampling
// controls are dropped since those models only accept their defaults.
func normalizeForReasoningModel(c *gin.Context, request *model.GeneralOpenAIRequest) {
	if !IsReasoningModel(request.Model) {
		return
	}
	if request.MaxTokens != 0 && request.MaxCompletionTokens == nil {
		maxTokens := request.MaxTokens
		request.MaxCompletionTokens = &maxTokens
	}
	request.MaxTokens = 0
	if request.Temperature != nil || request.TopP != nil {
		gmw.GetLogger(c).Debug("dropping sampling params for reasoning model",
			zap.String("model", request.Model))
		request.Temperature = nil
		request.TopP = nil
	}
}

// IsReasoningModel reports whether the model only accepts reasoning-family
// request parameters. Gateway upstreams prefix their model ids with a vendor
// segment, so only the last path segment is examined.
func IsReasoningModel(modelName string) bool {
	lower := strings.ToLower(strings.TrimSpace(modelName))
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		lower = lower[idx+1:]
	}
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

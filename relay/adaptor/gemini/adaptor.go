package gemini

import (
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
)

// Adaptor speaks the Generative Language API. All client dialects are
// lowered to the chat hub first and converted here; responses are folded
// back through the shared renderers.
type Adaptor struct{}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetChannelName() string {
	return "gemini"
}

func (a *Adaptor) GetModelList() []string {
	return adaptor.GetModelListFromPricing(ModelRatios)
}

func (a *Adaptor) GetDefaultModelPricing() map[string]adaptor.ModelConfig {
	return ModelRatios
}

func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	action := ":generateContent"
	if m.IsStream {
		action = ":streamGenerateContent?alt=sse"
	}
	return strings.TrimSuffix(m.BaseURL, "/") + "/v1beta/models/" + m.ActualModelName + action, nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, m)
	req.Header.Set("x-goog-api-key", m.APIKey)
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	return ConvertRequest(c, request), nil
}

func (a *Adaptor) ConvertClaudeRequest(c *gin.Context, request *model.ClaudeRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	chatRequest := openai.ConvertClaudeToChatRequest(request)
	return ConvertRequest(c, chatRequest), nil
}

func (a *Adaptor) ConvertImageRequest(c *gin.Context, request *model.ImageRequest) (any, error) {
	return nil, errors.New("gemini image generation is not wired")
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return adaptor.DoRequestHelper(a, c, m, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	if m.IsStream {
		errResp, usage := StreamHandler(c, resp, m.PromptTokens, m.ActualModelName)
		return usage, errResp
	}
	errResp, usage := Handler(c, resp, m.PromptTokens, m.ActualModelName)
	return usage, errResp
}

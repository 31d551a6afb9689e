package anthropic

import (
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
)

const apiVersion = "2023-06-01"

// Adaptor speaks the Claude Messages API. Requests that arrived on
// /v1/messages pass through natively; chat-hub requests are lifted into the
// Messages shape and the responses folded back into the client's dialect.
type Adaptor struct{}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetChannelName() string {
	return "anthropic"
}

func (a *Adaptor) GetModelList() []string {
	return adaptor.GetModelListFromPricing(ModelRatios)
}

func (a *Adaptor) GetDefaultModelPricing() map[string]adaptor.ModelConfig {
	return ModelRatios
}

func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	return strings.TrimSuffix(m.BaseURL, "/") + "/v1/messages", nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, m)
	req.Header.Set("x-api-key", m.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	// Beta opt-ins the client negotiated pass through untouched.
	if beta := c.Request.Header.Get("anthropic-beta"); beta != "" {
		req.Header.Set("anthropic-beta", beta)
	}
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	claudeRequest := ConvertChatToClaudeRequest(request)
	EnsureMaxTokens(c, claudeRequest)
	return claudeRequest, nil
}

func (a *Adaptor) ConvertClaudeRequest(c *gin.Context, request *model.ClaudeRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	EnsureMaxTokens(c, request)
	c.Set(ctxkey.ClaudeDirectPassthrough, true)
	return request, nil
}

func (a *Adaptor) ConvertImageRequest(c *gin.Context, request *model.ImageRequest) (any, error) {
	return nil, errors.New("anthropic does not provide image generation")
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
